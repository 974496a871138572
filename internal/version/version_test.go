package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestGetUsesLinkedValues(t *testing.T) {
	oldVersion, oldCommit := Version, Commit
	t.Cleanup(func() { Version, Commit = oldVersion, oldCommit })

	Version, Commit = "1.2.3", "abc123"
	info := Get()
	if info.Version != "1.2.3" || info.Commit != "abc123" {
		t.Fatalf("构建信息不正确: %+v", info)
	}
	if info.GoVersion != runtime.Version() {
		t.Fatalf("Go 版本不正确: %s", info.GoVersion)
	}
	if !strings.HasPrefix(info.String(), "ratewatch 1.2.3 (commit abc123") {
		t.Fatalf("String 输出不正确: %s", info.String())
	}
}
