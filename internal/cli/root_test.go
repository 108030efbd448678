package cli

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewRootCmd_RegistersEverySubcommand(t *testing.T) {
	root := NewRootCmd()

	want := map[string]bool{
		"gmail-auth": false,
		"migrate":    false,
		"verify":     false,
		"report":     false,
	}
	for _, cmd := range root.Commands() {
		name := cmd.Name()
		if _, ok := want[name]; ok {
			want[name] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %q not registered on root", name)
		}
	}
}

func TestNewRootCmd_SilencesCobraDefaultErrorPrinting(t *testing.T) {
	root := NewRootCmd()
	if !root.SilenceUsage || !root.SilenceErrors {
		t.Error("root command must silence cobra's own usage/error printing so Execute() prints exactly once")
	}
}

func TestNewLogger_DefaultsToTextFormatterAtInvalidLevel(t *testing.T) {
	log := newLogger("not-a-level", false)
	if _, ok := log.Logger.Formatter.(*logrus.TextFormatter); !ok {
		t.Errorf("Formatter = %T, want *logrus.TextFormatter", log.Logger.Formatter)
	}
}

func TestNewLogger_JSONFlagSelectsJSONFormatter(t *testing.T) {
	log := newLogger("info", true)
	if _, ok := log.Logger.Formatter.(*logrus.JSONFormatter); !ok {
		t.Errorf("Formatter = %T, want *logrus.JSONFormatter", log.Logger.Formatter)
	}
}

func TestNewLogger_ValidLevelIsApplied(t *testing.T) {
	log := newLogger("debug", false)
	if log.Logger.GetLevel() != logrus.DebugLevel {
		t.Errorf("Level = %v, want debug", log.Logger.GetLevel())
	}
}
