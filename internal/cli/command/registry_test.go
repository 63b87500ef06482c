package command

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
)

func TestRegistryKeys(t *testing.T) {
	reg := Registry()
	for _, key := range []string{"judge submit", "judge status", "judge wait", "judge queue", "judge languages", "contest leaderboard"} {
		if _, ok := reg[key]; !ok {
			t.Fatalf("missing command %q", key)
		}
	}
}

func TestBuildSubmitFromFile(t *testing.T) {
	src := filepath.Join(t.TempDir(), "main.cpp")
	if err := os.WriteFile(src, []byte("int main(){}"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	cmd := Registry()["judge submit"]
	params, err := ParseArgs([]string{"problem=sum", "user=alice", "lang=cpp", "file=" + src})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	params.Canonicalize(cmd.Fields)
	MarkFileBacked(cmd, params)
	if missing := Missing(cmd, params); len(missing) != 0 {
		t.Fatalf("nothing should be missing, got %+v", missing)
	}

	req, err := BuildRequest(cmd, params)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if req.Method != http.MethodPost || req.Path != "/api/v1/judge/submissions" {
		t.Fatalf("unexpected request %+v", req)
	}
	var body map[string]string
	if err := json.Unmarshal(req.Body, &body); err != nil {
		t.Fatalf("body not json: %v", err)
	}
	if body["problem_id"] != "sum" || body["submitter_id"] != "alice" || body["language"] != "cpp" || body["source_code"] != "int main(){}" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestBuildSubmitWithoutCodeFails(t *testing.T) {
	cmd := Registry()["judge submit"]
	params := Params{"problem_id": "sum", "submitter_id": "a", "language": "cpp"}
	if _, err := BuildRequest(cmd, params); err == nil {
		t.Fatalf("expected missing source error")
	}
}

func TestBuildPathRequiresID(t *testing.T) {
	cmd := Registry()["contest leaderboard"]
	if _, err := BuildRequest(cmd, Params{}); err == nil {
		t.Fatalf("expected missing id error")
	}
	req, err := BuildRequest(cmd, Params{"contest": "c1"})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if req.Path != "/api/v1/contests/c1/leaderboard" || req.Body != nil {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestParseArgsRejectsBareToken(t *testing.T) {
	if _, err := ParseArgs([]string{"problem"}); err == nil {
		t.Fatalf("expected error")
	}
}
