package detectors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKnownConditionOutcomes(t *testing.T) {
	ctx := analyze(t, `
void f(int x, int y) {
    int a = 1;
    if (a) { }
    if (x > 10) {
        if (x > 5) { }
    }
    do { } while (0);
    if (y < 0) {
        if (y > 100) { }
    }
    if (x < 0) { }
}
`)
	findings := NewKnownConditionChecker().Run(ctx)
	require.Len(t, findings, 3)

	assert.Equal(t, 4, findings[0].Line)
	assert.Contains(t, findings[0].Message, "condition 'a' is always true")

	// 外层 x>10 成立时内层必然成立
	assert.Equal(t, 6, findings[1].Line)
	assert.Contains(t, findings[1].Message, "condition 'x>5' is always true")

	// y<0 之下 y>100 不可能
	assert.Equal(t, 10, findings[2].Line)
	assert.Contains(t, findings[2].Message, "condition 'y>100' is always false")
}

// 游标推进要淘汰中途被改写的事实
func TestKnownConditionInvalidatedByWrite(t *testing.T) {
	ctx := analyze(t, `
void g(int x) {
    int a = 0;
    if (a == 0) { }
    a = x;
    if (a == 0) { }
}
`)
	findings := NewKnownConditionChecker().Run(ctx)
	require.Len(t, findings, 1)
	assert.Equal(t, 4, findings[0].Line)
	assert.Contains(t, findings[0].Message, "always true")
}

func TestKnownConditionLoopsUnknown(t *testing.T) {
	ctx := analyze(t, `
void h(int n) {
    for (int i = 0; i < n; i++) { }
    while (n > 0) { }
}
`)
	assert.Empty(t, NewKnownConditionChecker().Run(ctx))
}
