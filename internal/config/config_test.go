package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pinoq.toml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
disk = "/tmp/my.pinoq"
mount = "/mnt/pinoq"

[current]
aspect = 1
password = "hunter2"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Disk != "/tmp/my.pinoq" || cfg.Mount != "/mnt/pinoq" {
		t.Errorf("got %+v", cfg)
	}
	if cfg.Current.Aspect != 1 || cfg.Current.Password != "hunter2" {
		t.Errorf("got %+v", cfg.Current)
	}
}

func TestLoadMissingRequiredFieldFails(t *testing.T) {
	path := writeConfig(t, `
mount = "/mnt/pinoq"

[current]
password = "hunter2"
`)
	if _, err := Load(path); err == nil {
		t.Error("a config missing \"disk\" should fail to load")
	}
}

func TestLoadUnparseableFileFails(t *testing.T) {
	path := writeConfig(t, `this is not valid toml {{{`)
	if _, err := Load(path); err == nil {
		t.Error("an unparseable config file should fail to load")
	}
}
