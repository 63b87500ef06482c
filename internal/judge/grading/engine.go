// Package grading runs a submission against every test case and derives its verdict.
package grading

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"arenaoj/internal/judge/model"
	"arenaoj/internal/judge/sandbox"
	"arenaoj/internal/judge/sandbox/result"
	"arenaoj/internal/judge/testcase"
	appErr "arenaoj/pkg/errors"
	"arenaoj/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultReportLimit        = 4 << 10
	defaultValidatorTimeLimit = 5 * time.Second
	defaultValidatorMemoryMB  = 256

	// ValidatorAccepted is the exact stdout a validator prints for a pass.
	ValidatorAccepted = "Accepted"

	validatorInputFile  = "input.txt"
	validatorOutputFile = "output.txt"
	validatorAnswerFile = "answer.txt"
)

// Executor runs one program in the sandbox.
type Executor interface {
	Execute(ctx context.Context, req sandbox.Request) result.ExecResult
}

// Reporter receives grading progress in ordinal order.
type Reporter interface {
	// Begin is called once the number of test cases is known.
	Begin(ctx context.Context, total int) error
	// Record is called after each test case completes.
	Record(ctx context.Context, res model.TestResult) error
}

// Config controls grading.
type Config struct {
	// ReportLimitBytes truncates input and output fields kept in results.
	ReportLimitBytes   int           `yaml:"reportLimitBytes"`
	ValidatorTimeLimit time.Duration `yaml:"validatorTimeLimit"`
	ValidatorMemoryMB  int64         `yaml:"validatorMemoryMB"`
}

// Engine grades submissions.
type Engine struct {
	exec  Executor
	cases testcase.Loader
	cfg   Config
}

// NewEngine creates a grading engine.
func NewEngine(exec Executor, cases testcase.Loader, cfg Config) (*Engine, error) {
	if exec == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cases == nil {
		return nil, fmt.Errorf("test case loader is required")
	}
	if cfg.ReportLimitBytes <= 0 {
		cfg.ReportLimitBytes = defaultReportLimit
	}
	if cfg.ValidatorTimeLimit <= 0 {
		cfg.ValidatorTimeLimit = defaultValidatorTimeLimit
	}
	if cfg.ValidatorMemoryMB <= 0 {
		cfg.ValidatorMemoryMB = defaultValidatorMemoryMB
	}
	return &Engine{exec: exec, cases: cases, cfg: cfg}, nil
}

// Grade runs every test case in order and returns the outcome.
// Faults of the pipeline itself come back as Outcome.InfraError. The returned
// error is reserved for conditions that should stop the calling worker: an
// unhealthy host, a cancelled context, or a Reporter failure.
func (e *Engine) Grade(ctx context.Context, sub *model.Submission, meta model.ProblemMeta, rep Reporter) (model.Outcome, error) {
	cases, validator, err := e.cases.Load(ctx, meta)
	if err != nil {
		if ctx.Err() != nil {
			return model.Outcome{}, ctx.Err()
		}
		return infra("load test cases: %v", err), nil
	}
	if len(cases) == 0 {
		return infra("problem %s has no test cases", meta.ProblemID), nil
	}
	if err := rep.Begin(ctx, len(cases)); err != nil {
		return model.Outcome{}, err
	}

	results := make([]model.TestResult, 0, len(cases))
	for _, tc := range cases {
		res, stop, fault, err := e.gradeOne(ctx, sub, meta, tc, validator)
		if err != nil {
			return model.Outcome{}, err
		}
		if fault != "" {
			return infra("test %d: %s", tc.Ordinal, fault), nil
		}
		if err := rep.Record(ctx, res); err != nil {
			return model.Outcome{}, err
		}
		results = append(results, res)
		if stop {
			break
		}
	}
	return model.Outcome{Verdict: AggregateResults(results), Results: results}, nil
}

// gradeOne returns stop=true after a compile error, a non-empty fault for infra failures,
// and an error only for conditions that end grading outright.
func (e *Engine) gradeOne(ctx context.Context, sub *model.Submission, meta model.ProblemMeta, tc model.TestCase, validator *model.Validator) (model.TestResult, bool, string, error) {
	exec := e.exec.Execute(ctx, sandbox.Request{
		Language:      sub.Language,
		SourceCode:    sub.SourceCode,
		Stdin:         tc.Input,
		TimeLimit:     meta.TimeLimit(),
		MemoryLimitMB: meta.MemoryLimit(),
	})
	if err := e.checkExec(ctx, exec); err != nil {
		return model.TestResult{}, false, "", err
	}

	res := model.TestResult{
		Ordinal:        tc.Ordinal,
		TimeMs:         exec.TimeMs,
		MemoryKB:       exec.MemoryKB,
		ExpectedOutput: e.truncate(strings.TrimSpace(tc.ExpectedOutput)),
		Input:          e.truncate(tc.Input),
	}
	switch exec.Class {
	case result.ClassNone:
		actual := strings.TrimSpace(exec.Stdout)
		res.ActualOutput = e.truncate(actual)
		pass, fault, err := e.compare(ctx, tc, exec.Stdout, validator)
		if err != nil {
			return model.TestResult{}, false, "", err
		}
		if fault != "" {
			return model.TestResult{}, false, fault, nil
		}
		if pass {
			res.Verdict, res.Message = model.VerdictPassed, "Test case passed"
		} else {
			res.Verdict, res.Message = model.VerdictWrongAnswer, "Output mismatch"
		}
	case result.ClassCompileError:
		res.Verdict = model.VerdictCompilationError
		res.Message = "Compilation Error: " + e.truncate(exec.Stderr)
		return res, true, "", nil
	case result.ClassTimeLimitExceeded:
		res.Verdict, res.Message = model.VerdictTimeLimitExceeded, "Time Limit Exceeded"
	case result.ClassMemoryLimitExceeded:
		res.Verdict, res.Message = model.VerdictMemoryLimitExceeded, "Memory Limit Exceeded"
	case result.ClassRuntimeError:
		res.Verdict = model.VerdictRuntimeError
		res.Message = "Runtime Error: " + e.truncate(exec.Stderr)
	default:
		return model.TestResult{}, false, fmt.Sprintf("sandbox %s: %s", exec.Class, exec.Stderr), nil
	}
	return res, false, "", nil
}

// compare reports whether the output passes. Validator faults come back as a non-empty fault.
func (e *Engine) compare(ctx context.Context, tc model.TestCase, stdout string, validator *model.Validator) (bool, string, error) {
	if validator == nil {
		return strings.TrimSpace(stdout) == strings.TrimSpace(tc.ExpectedOutput), "", nil
	}
	exec := e.exec.Execute(ctx, sandbox.Request{
		Language:   validator.Language,
		SourceCode: validator.SourceCode,
		Files: map[string]string{
			validatorInputFile:  tc.Input,
			validatorOutputFile: stdout,
			validatorAnswerFile: tc.ExpectedOutput,
		},
		Args:          []string{validatorInputFile, validatorOutputFile, validatorAnswerFile},
		TimeLimit:     e.cfg.ValidatorTimeLimit,
		MemoryLimitMB: e.cfg.ValidatorMemoryMB,
	})
	if err := e.checkExec(ctx, exec); err != nil {
		return false, "", err
	}
	if !exec.OK() {
		logger.Warn(ctx, "validator failed to run", zap.String("class", string(exec.Class)), zap.String("stderr", e.truncate(exec.Stderr)))
		return false, fmt.Sprintf("validator %s: %s", exec.Class, e.truncate(exec.Stderr)), nil
	}
	// A single trailing line break from print-style output is tolerated.
	verdict := strings.TrimSuffix(strings.TrimSuffix(exec.Stdout, "\n"), "\r")
	return verdict == ValidatorAccepted, "", nil
}

func (e *Engine) checkExec(ctx context.Context, exec result.ExecResult) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if exec.Unrecoverable {
		return appErr.Newf(appErr.HostUnhealthy, "sandbox host is unhealthy: %s", exec.Stderr)
	}
	return nil
}

func (e *Engine) truncate(s string) string {
	limit := e.cfg.ReportLimitBytes
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "...(truncated)"
}

func infra(format string, args ...interface{}) model.Outcome {
	return model.Outcome{InfraError: fmt.Sprintf(format, args...)}
}
