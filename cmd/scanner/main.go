package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"govalflow/internal/core"
	"govalflow/internal/detectors"
	"govalflow/internal/report"
)

// getExcludedDirs 返回统一的排除目录列表。
// 目录扫描和文件统计使用同一份列表，避免两边行为不一致。
func getExcludedDirs() map[string]bool {
	return map[string]bool{
		// 构建产物
		"build": true, "dist": true, "target": true, "cmake-build": true, ".cmake": true,
		// 依赖目录
		"vendor": true, "node_modules": true, "third_party": true, "thirdparty": true,
		"3rdparty": true, "deps": true, "external": true, "externals": true,
		// 版本控制
		".git": true, ".svn": true, ".hg": true,
		// IDE 和缓存
		".cache": true, ".idea": true, ".vscode": true,
		// 测试与示例
		"test": true, "tests": true, "testing": true, "fuzz": true,
		"example": true, "examples": true, "sample": true, "samples": true,
		"doc": true, "docs": true,
	}
}

// Scanner 主扫描器。先对全部文件做一遍函数注册预扫描，
// 再并发地对每个文件运行所有检查器。
type Scanner struct {
	checkers  []core.Checker
	registry  *core.FunctionRegistry
	library   *core.KnowledgeBase
	workers   int
	verbose   bool
	format    report.Format
	output    string
	timestamp bool
}

// NewScanner 创建扫描器
func NewScanner(workers int, verbose bool, format report.Format, output string, timestamp bool) *Scanner {
	return &Scanner{
		checkers:  make([]core.Checker, 0),
		registry:  core.NewFunctionRegistry(),
		library:   core.DefaultKnowledgeBase(),
		workers:   workers,
		verbose:   verbose,
		format:    format,
		output:    output,
		timestamp: timestamp,
	}
}

// AddChecker 注册检查器
func (s *Scanner) AddChecker(checker core.Checker) {
	s.checkers = append(s.checkers, checker)
}

// SetLibrary 替换函数知识库（用于叠加用户提供的 YAML）
func (s *Scanner) SetLibrary(lib *core.KnowledgeBase) {
	if lib != nil {
		s.library = lib
	}
}

// collectFiles 收集待扫描的 C/C++ 文件。path 是单个文件时直接返回，
// 是目录时递归遍历并跳过排除目录。
func collectFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if !info.IsDir() {
		if _, err := core.LanguageFor(path); err != nil {
			return nil, err
		}
		return []string{path}, nil
	}

	excluded := getExcludedDirs()
	var files []string
	err = filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // 跳过不可读的条目
		}
		if info.IsDir() {
			if p != path && excluded[strings.ToLower(filepath.Base(p))] {
				return filepath.SkipDir
			}
			return nil
		}
		if _, err := core.LanguageFor(p); err == nil {
			files = append(files, p)
		}
		return nil
	})
	return files, err
}

// indexFunctions 预扫描：解析全部文件并把函数定义注册到共享注册表，
// 使后续检查器能解析跨文件调用。单个文件解析失败不中断预扫描。
func (s *Scanner) indexFunctions(ctx context.Context, files []string) {
	for _, path := range files {
		unit, err := core.ParseFile(ctx, path)
		if err != nil {
			if s.verbose {
				log.Printf("预扫描跳过 %s: %v", path, err)
			}
			continue
		}
		built := core.BuildUnit(unit)
		s.registry.Register(built.Functions...)
	}
	if s.verbose {
		log.Printf("预扫描完成: 注册 %d 个函数定义", s.registry.Len())
	}
}

// fileJob 单文件扫描任务
type fileJob struct {
	ctx     context.Context
	path    string
	scanner *Scanner
}

func (j *fileJob) ID() string { return j.path }

// Run 解析并构建单个翻译单元，依次运行全部检查器
func (j *fileJob) Run() ([]core.Finding, error) {
	unit, err := core.ParseFile(j.ctx, j.path)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", j.path, err)
	}
	built := core.BuildUnit(unit)
	actx := core.NewAnalysisContext(unit, built, j.scanner.library, j.scanner.registry)

	var findings []core.Finding
	for _, checker := range j.scanner.checkers {
		findings = append(findings, checker.Run(actx)...)
	}
	return findings, nil
}

// Scan 并发扫描文件列表，返回全部发现和成功扫描的文件数
func (s *Scanner) Scan(ctx context.Context, files []string) ([]core.Finding, int) {
	pool := core.NewWorkerPool(ctx, s.workers, s.workers*2)
	pool.Start()

	// 结果必须和提交并发地排空，否则结果通道写满后 Close 会卡住
	done := make(chan struct{})
	var findings []core.Finding
	failed := 0
	go func() {
		defer close(done)
		for res := range pool.Results() {
			if res.Error != nil {
				failed++
				if s.verbose {
					log.Printf("扫描失败 %s: %v", res.JobID, res.Error)
				}
				continue
			}
			findings = append(findings, res.Findings...)
		}
	}()

	for _, path := range files {
		if err := pool.Submit(&fileJob{ctx: ctx, path: path, scanner: s}); err != nil {
			break // 上下文已取消
		}
	}
	pool.Close()
	<-done

	if s.verbose {
		stats := pool.Stats()
		log.Printf("工作池统计: 提交 %d, 完成 %d, 失败 %d, 平均耗时 %s",
			stats.JobsSubmitted, stats.JobsCompleted, stats.JobsFailed, stats.AvgExecTime)
	}
	return findings, len(files) - failed
}

// printResults 打印结果
func (s *Scanner) printResults(findings []core.Finding, duration time.Duration, filesScanned int) {
	result := &report.ScanResult{
		Findings:     findings,
		Duration:     duration,
		FilesScanned: filesScanned,
		Checkers:     s.checkerNames(),
	}

	// 如果指定了输出文件，保存到文件
	if s.output != "" {
		outputPath := s.output

		// 如果启用了时间戳，在文件名中插入时间戳
		if s.timestamp {
			ext := filepath.Ext(s.output)
			base := strings.TrimSuffix(s.output, ext)
			stamp := time.Now().Format("20060102_150405")
			outputPath = fmt.Sprintf("%s_%s%s", base, stamp, ext)
		}

		outputDir := filepath.Dir(outputPath)
		if outputDir != "." && outputDir != "" {
			if err := os.MkdirAll(outputDir, 0755); err != nil {
				log.Printf("Failed to create output directory: %v", err)
				return
			}
		}

		// 对于 'all' 格式，使用报告管理器一次生成所有格式
		if s.format == report.FormatAll {
			opts := []report.ManagerOption{
				report.WithFormat(s.format),
				report.WithOutputDir(outputDir),
			}
			if base := strings.TrimSuffix(filepath.Base(s.output), filepath.Ext(s.output)); base != "" && base != "." {
				opts = append(opts, report.WithFilename(base))
			}
			if s.timestamp {
				opts = append(opts, report.WithTimestamp())
			}
			mgr := report.NewManager(opts...)
			outputFiles, err := mgr.Generate(result)
			if err != nil {
				log.Printf("Failed to generate report: %v", err)
				return
			}
			fmt.Printf("\nReport generated:\n")
			for _, file := range outputFiles {
				fmt.Printf("  %s\n", file)
			}
			return
		}

		file, err := os.Create(outputPath)
		if err != nil {
			log.Printf("Failed to create output file %s: %v", outputPath, err)
			return
		}
		defer file.Close()

		var writer interface{ Write(*report.ScanResult) error }
		switch s.format {
		case report.FormatJSON:
			writer = report.NewJSONWriter(file, report.WithPrettyJSON())
		case report.FormatSARIF:
			writer = report.NewSARIFWriter(file, report.WithPrettySARIF())
		case report.FormatText:
			writer = report.NewTextWriter(file)
		default:
			log.Printf("Unsupported output format: %v", s.format)
			return
		}

		if err := writer.Write(result); err != nil {
			log.Printf("Failed to write report to %s: %v", outputPath, err)
			return
		}

		fmt.Printf("\nReport generated: %s\n", outputPath)
	}

	// 控制台摘要：text 格式或未指定输出文件时显示
	if s.format == report.FormatText || s.output == "" {
		fmt.Printf("\nScan Summary\n")
		fmt.Printf("===========\n")
		fmt.Printf("Files scanned: %d\n", result.FilesScanned)
		fmt.Printf("Scan time: %s\n", result.Duration.Round(time.Millisecond))

		counts := make(map[string]int)
		for _, f := range result.Findings {
			counts[f.Severity]++
		}

		if len(counts) > 0 {
			fmt.Printf("\nFindings:\n")
			if counts[core.SeverityCritical] > 0 {
				fmt.Printf("  CRITICAL: %d\n", counts[core.SeverityCritical])
			}
			if counts[core.SeverityHigh] > 0 {
				fmt.Printf("  HIGH: %d\n", counts[core.SeverityHigh])
			}
			if counts[core.SeverityMedium] > 0 {
				fmt.Printf("  MEDIUM: %d\n", counts[core.SeverityMedium])
			}
			if counts[core.SeverityLow] > 0 {
				fmt.Printf("  LOW: %d\n", counts[core.SeverityLow])
			}
			fmt.Printf("  TOTAL: %d\n", len(result.Findings))
		} else {
			fmt.Printf("\n✓ No issues found\n")
		}

		if s.output != "" {
			fmt.Printf("\nDetailed report saved to: %s\n", s.output)
		}
		fmt.Printf("\n")
	}
}

// checkerNames 获取检查器名称列表
func (s *Scanner) checkerNames() []string {
	names := make([]string, len(s.checkers))
	for i, checker := range s.checkers {
		names[i] = checker.Name()
	}
	return names
}

func main() {
	// 根据 CPU 核心数设置默认 workers，不低于 4，不超过 32
	defaultWorkers := runtime.NumCPU()
	if defaultWorkers < 4 {
		defaultWorkers = 4
	}
	if defaultWorkers > 32 {
		defaultWorkers = 32
	}

	var (
		workers     = flag.Int("workers", defaultWorkers, "Number of worker goroutines (default: NumCPU, capped at 32)")
		verbose     = flag.Bool("v", false, "Verbose output")
		format      = flag.String("format", "text", "Output format (text, json, sarif, all)")
		output      = flag.String("output", "", "Output file path for report (e.g., report.json)")
		timestamp   = flag.Bool("timestamp", false, "Add timestamp to output files")
		library     = flag.String("library", "", "Additional library knowledge files, comma-separated YAML paths")
		checker     = flag.String("checker", "", "Run only specified checkers, comma-separated (zero-division, known-condition, array-index; default all)")
		listFormats = flag.Bool("list-formats", false, "List supported output formats")
		help        = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *listFormats {
		fmt.Printf("Supported output formats:\n")
		for _, f := range report.SupportedFormats() {
			fmt.Printf("  %s - %s\n", f, report.FormatDescription(f))
		}
		os.Exit(0)
	}

	if *help {
		fmt.Printf("govalflow - Abstract value flow analysis for C/C++\n\n")
		fmt.Printf("Usage: %s [options] <path>\n\n", os.Args[0])
		fmt.Printf("Options:\n")
		flag.PrintDefaults()
		fmt.Printf("\nSupported formats: text, json, sarif, all\n")
		fmt.Printf("\nExamples:\n")
		fmt.Printf("  %s /path/to/project\n", os.Args[0])
		fmt.Printf("  %s -workers 8 -v /path/to/project\n", os.Args[0])
		fmt.Printf("  %s -format json -output report.json /path/to/project\n", os.Args[0])
		fmt.Printf("  %s -format all -output reports/scan /path/to/project\n", os.Args[0])
		fmt.Printf("  %s -checker zero-division,array-index /path/to/project\n", os.Args[0])
		fmt.Printf("  %s -library custom.yaml /path/to/project\n", os.Args[0])
		os.Exit(0)
	}

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Error: Please provide a file or directory to scan\n\n")
		flag.Usage()
		os.Exit(1)
	}

	outputFormat, err := report.ParseFormat(*format)
	if err != nil {
		log.Fatalf("Invalid output format: %v", err)
	}

	path := flag.Arg(0)

	scanner := NewScanner(*workers, *verbose, outputFormat, *output, *timestamp)

	// 叠加用户提供的函数知识库
	if *library != "" {
		paths := strings.Split(*library, ",")
		for i := range paths {
			paths[i] = strings.TrimSpace(paths[i])
		}
		lib, err := core.LoadKnowledgeBase(paths...)
		if err != nil {
			log.Fatalf("Failed to load library knowledge: %v", err)
		}
		scanner.SetLibrary(lib)
	}

	// 按 -checker 参数选择性启用检查器
	checkerFlag := strings.TrimSpace(*checker)
	shouldAdd := func(name string) bool {
		if checkerFlag == "" || checkerFlag == "all" {
			return true
		}
		for _, want := range strings.Split(checkerFlag, ",") {
			if strings.TrimSpace(want) == name {
				return true
			}
		}
		return false
	}
	if shouldAdd("zero-division") {
		scanner.AddChecker(detectors.NewZeroDivisionChecker())
	}
	if shouldAdd("known-condition") {
		scanner.AddChecker(detectors.NewKnownConditionChecker())
	}
	if shouldAdd("array-index") {
		scanner.AddChecker(detectors.NewArrayIndexChecker())
	}
	if len(scanner.checkers) == 0 {
		fmt.Fprintf(os.Stderr, "Warning: no checkers selected\n")
	}

	ctx := context.Background()

	files, err := collectFiles(path)
	if err != nil {
		log.Fatalf("Error accessing path %s: %v", path, err)
	}
	if len(files) == 0 {
		fmt.Printf("No C/C++ files found under %s\n", path)
		os.Exit(0)
	}
	if *verbose {
		log.Printf("收集到 %d 个待扫描文件", len(files))
	}

	startTime := time.Now()

	// 第一遍：注册全部函数定义，供跨文件调用求值使用
	scanner.indexFunctions(ctx, files)

	// 第二遍：并发运行检查器
	findings, filesScanned := scanner.Scan(ctx, files)

	duration := time.Since(startTime)

	scanner.printResults(findings, duration, filesScanned)

	if len(findings) > 0 {
		os.Exit(1)
	}
}
