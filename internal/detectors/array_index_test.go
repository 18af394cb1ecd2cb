package detectors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArrayIndexKnownOutOfBounds(t *testing.T) {
	ctx := analyze(t, `
int f(void) {
    int buf[4];
    buf[0] = 1;
    return buf[5];
}
`)
	findings := NewArrayIndexChecker().Run(ctx)
	require.Len(t, findings, 1)
	assert.Equal(t, "array-index", findings[0].CheckID)
	assert.Equal(t, 5, findings[0].Line)
	assert.Contains(t, findings[0].Message, "'buf[4]' accessed at index 5")
}

// 条件给出的单侧界足以判定越界；上下界都卡住的访问不报
func TestArrayIndexBoundDerived(t *testing.T) {
	ctx := analyze(t, `
int g(int i) {
    int buf[4];
    if (i > 3) {
        return buf[i];
    }
    if (i >= 0 && i < 4) {
        return buf[i];
    }
    return 0;
}
`)
	findings := NewArrayIndexChecker().Run(ctx)
	require.Len(t, findings, 1)
	assert.Equal(t, 5, findings[0].Line)
	assert.Contains(t, findings[0].Message, "out of bounds")
}

// &buf[size] 的尾后取址合法；字符串字面量可索引到终结符为止
func TestArrayIndexOnePastEndAndStringLiteral(t *testing.T) {
	ctx := analyze(t, `
void h(void) {
    int buf[4];
    int *p = &buf[4];
    char c = "abc"[3];
    char d = "abc"[7];
}
`)
	findings := NewArrayIndexChecker().Run(ctx)
	require.Len(t, findings, 1)
	assert.Equal(t, 6, findings[0].Line)
	assert.Contains(t, findings[0].Message, "index 7")
}
