package cli

import (
	"strings"
	"testing"
)

func TestVersionCmd(t *testing.T) {
	origV, origC, origD := appVersion, appCommit, appDate
	defer SetVersionInfo(origV, origC, origD)
	SetVersionInfo("1.2.3", "abc1234", "2025-03-01")

	out := captureStdout(t, func() {
		versionCmd.Run(versionCmd, nil)
	})

	for _, want := range []string{"devassist 1.2.3\n", "commit: abc1234\n", "built:  2025-03-01\n"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output, got:\n%s", want, out)
		}
	}
}

func TestRootCmd_Subcommands(t *testing.T) {
	want := map[string]bool{
		"session": false, "knowledge": false, "cleanup": false, "metrics": false,
		"alerts": false, "dashboard": false, "mcp": false, "version": false,
	}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("expected %q to be registered on the root command", name)
		}
	}
}
