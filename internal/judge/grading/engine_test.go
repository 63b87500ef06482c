package grading

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"arenaoj/internal/judge/model"
	"arenaoj/internal/judge/sandbox"
	"arenaoj/internal/judge/sandbox/result"
	appErr "arenaoj/pkg/errors"
)

type fakeExecutor struct {
	mu    sync.Mutex
	reqs  []sandbox.Request
	run   func(req sandbox.Request) result.ExecResult
	check func(req sandbox.Request) result.ExecResult
}

func (f *fakeExecutor) Execute(ctx context.Context, req sandbox.Request) result.ExecResult {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if req.Language == "validator" {
		return f.check(req)
	}
	return f.run(req)
}

type fakeLoader struct {
	cases     []model.TestCase
	validator *model.Validator
	err       error
}

func (f *fakeLoader) Load(ctx context.Context, meta model.ProblemMeta) ([]model.TestCase, *model.Validator, error) {
	return f.cases, f.validator, f.err
}

type recorder struct {
	total   int
	results []model.TestResult
	err     error
}

func (r *recorder) Begin(ctx context.Context, total int) error {
	r.total = total
	return nil
}

func (r *recorder) Record(ctx context.Context, res model.TestResult) error {
	if r.err != nil {
		return r.err
	}
	r.results = append(r.results, res)
	return nil
}

func sumCases() []model.TestCase {
	return []model.TestCase{
		{Ordinal: 1, Input: "3 4", ExpectedOutput: "7"},
		{Ordinal: 2, Input: "10 20", ExpectedOutput: "30"},
	}
}

func ok(stdout string) result.ExecResult {
	return result.ExecResult{Class: result.ClassNone, Stdout: stdout, TimeMs: 5}
}

func newTestEngine(t *testing.T, exec *fakeExecutor, loader *fakeLoader) *Engine {
	t.Helper()
	engine, err := NewEngine(exec, loader, Config{ReportLimitBytes: 64})
	if err != nil {
		t.Fatalf("new engine failed: %v", err)
	}
	return engine
}

func grade(t *testing.T, engine *Engine, rep *recorder) model.Outcome {
	t.Helper()
	sub := &model.Submission{ID: "s1", ProblemID: "sum", Language: "cpp", SourceCode: "int main(){}"}
	out, err := engine.Grade(context.Background(), sub, model.ProblemMeta{ProblemID: "sum", TestCount: 2}, rep)
	if err != nil {
		t.Fatalf("grade failed: %v", err)
	}
	return out
}

func TestGradeAcceptedSum(t *testing.T) {
	exec := &fakeExecutor{run: func(req sandbox.Request) result.ExecResult {
		var a, b int
		fmt.Sscan(req.Stdin, &a, &b)
		return ok(fmt.Sprintf("%d\n", a+b))
	}}
	rep := &recorder{}
	out := grade(t, newTestEngine(t, exec, &fakeLoader{cases: sumCases()}), rep)

	if out.Verdict != model.VerdictAccepted || out.Status() != model.StatusAccepted {
		t.Fatalf("expected accepted, got %+v", out)
	}
	if rep.total != 2 || len(rep.results) != 2 {
		t.Fatalf("expected 2 recorded results, got total=%d results=%d", rep.total, len(rep.results))
	}
	for i, r := range out.Results {
		if r.Verdict != model.VerdictPassed || r.Ordinal != i+1 {
			t.Fatalf("unexpected result %d: %+v", i, r)
		}
	}
	if exec.reqs[0].TimeLimit.Milliseconds() != model.DefaultTimeLimitMs || exec.reqs[0].MemoryLimitMB != model.DefaultMemoryLimitMB {
		t.Fatalf("default limits not applied: %+v", exec.reqs[0])
	}
}

func TestGradeWrongAnswerRunsEveryCase(t *testing.T) {
	exec := &fakeExecutor{run: func(req sandbox.Request) result.ExecResult { return ok("0") }}
	rep := &recorder{}
	out := grade(t, newTestEngine(t, exec, &fakeLoader{cases: sumCases()}), rep)

	if out.Verdict != model.VerdictWrongAnswer {
		t.Fatalf("expected wrong answer, got %s", out.Verdict)
	}
	if len(out.Results) != 2 || len(exec.reqs) != 2 {
		t.Fatalf("expected both cases executed, got %d results %d runs", len(out.Results), len(exec.reqs))
	}
	for _, r := range out.Results {
		if r.Verdict != model.VerdictWrongAnswer || r.Message != "Output mismatch" || r.ActualOutput != "0" {
			t.Fatalf("unexpected result: %+v", r)
		}
	}
}

func TestGradeCompileErrorRecordsSingleResult(t *testing.T) {
	exec := &fakeExecutor{run: func(req sandbox.Request) result.ExecResult {
		return result.ExecResult{Class: result.ClassCompileError, Stderr: "error: expected ';'"}
	}}
	rep := &recorder{}
	out := grade(t, newTestEngine(t, exec, &fakeLoader{cases: sumCases()}), rep)

	if out.Verdict != model.VerdictCompilationError {
		t.Fatalf("expected compilation error, got %s", out.Verdict)
	}
	if len(out.Results) != 1 || len(exec.reqs) != 1 {
		t.Fatalf("expected a single result, got %d results %d runs", len(out.Results), len(exec.reqs))
	}
	if !strings.HasPrefix(out.Results[0].Message, "Compilation Error: ") {
		t.Fatalf("unexpected message %q", out.Results[0].Message)
	}
}

func TestGradeTimeLimitExceeded(t *testing.T) {
	exec := &fakeExecutor{run: func(req sandbox.Request) result.ExecResult {
		return result.ExecResult{Class: result.ClassTimeLimitExceeded, ExitCode: -1}
	}}
	out := grade(t, newTestEngine(t, exec, &fakeLoader{cases: sumCases()}), &recorder{})
	if out.Verdict != model.VerdictTimeLimitExceeded {
		t.Fatalf("expected TLE, got %s", out.Verdict)
	}
	for _, r := range out.Results {
		if r.ActualOutput != "" {
			t.Fatalf("TLE result must not carry output")
		}
	}
}

func TestGradeMixedFailuresUsePriority(t *testing.T) {
	cases := []model.TestCase{
		{Ordinal: 1, Input: "a", ExpectedOutput: "x"},
		{Ordinal: 2, Input: "b", ExpectedOutput: "x"},
		{Ordinal: 3, Input: "c", ExpectedOutput: "x"},
		{Ordinal: 4, Input: "d", ExpectedOutput: "x"},
	}
	exec := &fakeExecutor{run: func(req sandbox.Request) result.ExecResult {
		switch req.Stdin {
		case "a":
			return ok("wrong")
		case "b":
			return result.ExecResult{Class: result.ClassMemoryLimitExceeded}
		case "c":
			return result.ExecResult{Class: result.ClassRuntimeError, Stderr: "segfault"}
		default:
			return ok("x")
		}
	}}
	rep := &recorder{}
	out := grade(t, newTestEngine(t, exec, &fakeLoader{cases: cases}), rep)
	if out.Verdict != model.VerdictRuntimeError {
		t.Fatalf("expected runtime error, got %s", out.Verdict)
	}
	want := []model.Verdict{model.VerdictWrongAnswer, model.VerdictMemoryLimitExceeded, model.VerdictRuntimeError, model.VerdictPassed}
	for i, r := range rep.results {
		if r.Verdict != want[i] {
			t.Fatalf("result %d = %s, want %s", i+1, r.Verdict, want[i])
		}
	}
}

func TestGradeInfraFaults(t *testing.T) {
	cases := []struct {
		name   string
		loader *fakeLoader
		run    func(req sandbox.Request) result.ExecResult
	}{
		{name: "no test cases", loader: &fakeLoader{}},
		{name: "loader error", loader: &fakeLoader{err: appErr.New(appErr.TestCaseNotFound)}},
		{
			name:   "sandbox infra error",
			loader: &fakeLoader{cases: sumCases()},
			run: func(req sandbox.Request) result.ExecResult {
				return result.Failure(result.ClassInfraError, "image missing")
			},
		},
		{
			name:   "oversize test input",
			loader: &fakeLoader{cases: sumCases()},
			run: func(req sandbox.Request) result.ExecResult {
				return result.Failure(result.ClassTooLarge, "input exceeds")
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rep := &recorder{}
			out := grade(t, newTestEngine(t, &fakeExecutor{run: tc.run}, tc.loader), rep)
			if out.Status() != model.StatusInfraError || out.InfraError == "" {
				t.Fatalf("expected infra error, got %+v", out)
			}
			if len(rep.results) != 0 {
				t.Fatalf("infra faults must not record verdicts")
			}
		})
	}
}

func TestGradeUnrecoverableHostStopsWorker(t *testing.T) {
	exec := &fakeExecutor{run: func(req sandbox.Request) result.ExecResult {
		res := result.Failure(result.ClassInfraError, "disk full")
		res.Unrecoverable = true
		return res
	}}
	engine := newTestEngine(t, exec, &fakeLoader{cases: sumCases()})
	_, err := engine.Grade(context.Background(), &model.Submission{Language: "c"}, model.ProblemMeta{ProblemID: "sum"}, &recorder{})
	if !appErr.Is(err, appErr.HostUnhealthy) {
		t.Fatalf("expected HostUnhealthy, got %v", err)
	}
}

func TestGradeReporterFailureAborts(t *testing.T) {
	exec := &fakeExecutor{run: func(req sandbox.Request) result.ExecResult { return ok("7") }}
	engine := newTestEngine(t, exec, &fakeLoader{cases: sumCases()})
	lost := appErr.New(appErr.StaleClaim)
	_, err := engine.Grade(context.Background(), &model.Submission{Language: "c"}, model.ProblemMeta{ProblemID: "sum"}, &recorder{err: lost})
	if !errors.Is(err, lost) {
		t.Fatalf("expected reporter error, got %v", err)
	}
	if len(exec.reqs) != 1 {
		t.Fatalf("grading must stop after the reporter fails")
	}
}

func TestGradeWithValidator(t *testing.T) {
	exec := &fakeExecutor{
		run: func(req sandbox.Request) result.ExecResult { return ok(" 7.0000 \n") },
		check: func(req sandbox.Request) result.ExecResult {
			if req.Files[validatorInputFile] == "" || len(req.Args) != 3 {
				return result.Failure(result.ClassRuntimeError, "missing inputs")
			}
			if req.Stdin == "" && strings.TrimSpace(req.Files[validatorOutputFile]) == "7.0000" && req.Files[validatorAnswerFile] == "7" {
				return ok("Accepted\n")
			}
			return ok("Wrong")
		},
	}
	loader := &fakeLoader{
		cases:     []model.TestCase{{Ordinal: 1, Input: "3 4", ExpectedOutput: "7"}, {Ordinal: 2, Input: "1 1", ExpectedOutput: "2"}},
		validator: &model.Validator{Language: "validator", SourceCode: "check"},
	}
	out := grade(t, newTestEngine(t, exec, loader), &recorder{})
	if out.Results[0].Verdict != model.VerdictPassed || out.Results[1].Verdict != model.VerdictWrongAnswer {
		t.Fatalf("unexpected validator verdicts: %+v", out.Results)
	}
	if out.Verdict != model.VerdictWrongAnswer {
		t.Fatalf("expected wrong answer, got %s", out.Verdict)
	}
}

func TestGradeValidatorFailureIsInfraError(t *testing.T) {
	exec := &fakeExecutor{
		run:   func(req sandbox.Request) result.ExecResult { return ok("7") },
		check: func(req sandbox.Request) result.ExecResult { return result.ExecResult{Class: result.ClassCompileError, Stderr: "bad checker"} },
	}
	loader := &fakeLoader{cases: sumCases(), validator: &model.Validator{Language: "validator"}}
	out := grade(t, newTestEngine(t, exec, loader), &recorder{})
	if out.Status() != model.StatusInfraError || !strings.Contains(out.InfraError, "validator") {
		t.Fatalf("expected validator infra error, got %+v", out)
	}
}

func TestGradeTruncatesReportFields(t *testing.T) {
	long := strings.Repeat("é", 100)
	exec := &fakeExecutor{run: func(req sandbox.Request) result.ExecResult { return ok(long) }}
	loader := &fakeLoader{cases: []model.TestCase{{Ordinal: 1, Input: long, ExpectedOutput: "x"}}}
	out := grade(t, newTestEngine(t, exec, loader), &recorder{})
	r := out.Results[0]
	if !strings.HasSuffix(r.ActualOutput, "...(truncated)") || !strings.HasSuffix(r.Input, "...(truncated)") {
		t.Fatalf("expected truncated fields, got %q", r.ActualOutput)
	}
	if !strings.HasPrefix(r.ActualOutput, strings.Repeat("é", 32)) {
		t.Fatalf("truncation split a rune: %q", r.ActualOutput)
	}
}
