package log

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matryer/is"
)

func TestLevelFiltering(t *testing.T) {
	is := is.New(t)

	var buf bytes.Buffer
	level.Set(levelNames["warn"])
	SetOutput(&buf, false)
	defer level.Set(levelNames["info"])

	Infof("hidden %d", 1)
	Warnf("shown %d", 2)

	out := buf.String()
	is.True(!strings.Contains(out, "hidden"))
	is.True(strings.Contains(out, "shown 2"))
	is.True(strings.Contains(out, "logger_test.go")) // caller, not the wrapper
}

func TestJSONOutput(t *testing.T) {
	is := is.New(t)

	var buf bytes.Buffer
	level.Set(levelNames["debug"])
	SetOutput(&buf, true)
	defer level.Set(levelNames["info"])

	Debugf("会话 %s 已创建", "abc")

	var entry map[string]interface{}
	is.NoErr(json.Unmarshal(buf.Bytes(), &entry))
	is.Equal(entry["msg"], "会话 abc 已创建")
	is.Equal(entry["level"], "DEBUG")
}

func TestInitWritesFile(t *testing.T) {
	is := is.New(t)

	path := filepath.Join(t.TempDir(), "logs", "server.log")
	is.NoErr(Init(&LogConfig{LogLevel: "info", LogFile: path}))
	Errorf("写入文件")

	data, err := os.ReadFile(path)
	is.NoErr(err)
	is.True(strings.Contains(string(data), "写入文件"))
}
