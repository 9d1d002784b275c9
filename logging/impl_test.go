package logging

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
	"go.viam.com/test"
)

type BasicStruct struct {
	X int
	y string
}

// assertLogMatches will fuzzy match log lines. Notably, this checks the time format, but ignores
// the exact time. And it expects a match on the filename, but the exact line number can be wrong.
func assertLogMatches(t *testing.T, actual *bytes.Buffer, expected string) {
	t.Helper()

	output, err := actual.ReadString('\n')
	test.That(t, err, test.ShouldBeNil)

	actualTrimmed := strings.TrimSuffix(output, "\n")
	actualParts := strings.Split(actualTrimmed, "\t")
	expectedParts := strings.Split(expected, "\t")
	// Use the length of the first string as a weak verification of checking that the result looks like a date.
	test.That(t, len(actualParts[0]), test.ShouldEqual, len(expectedParts[0]))
	// Log level.
	test.That(t, actualParts[1], test.ShouldEqual, expectedParts[1])
	// Logger name.
	test.That(t, actualParts[2], test.ShouldEqual, expectedParts[2])

	// Filename:line_number.
	actualFilename, actualLineNumber, found := strings.Cut(actualParts[3], ":")
	test.That(t, found, test.ShouldBeTrue)
	expectedFilename, _, found := strings.Cut(expectedParts[3], ":")
	test.That(t, found, test.ShouldBeTrue)
	test.That(t, actualFilename, test.ShouldEqual, expectedFilename)
	_, err = strconv.Atoi(actualLineNumber)
	test.That(t, err, test.ShouldBeNil)

	// Log message.
	test.That(t, actualParts[4], test.ShouldEqual, expectedParts[4])

	test.That(t, len(actualParts), test.ShouldEqual, len(expectedParts))
	if len(actualParts) == 5 {
		return
	}

	// JSON encoding of maps can be unpredictable because map iteration order can change between
	// runs. Parse the output into maps and assert on map equality.
	expectedMap := make(map[string]any)
	err = json.Unmarshal([]byte(expectedParts[5]), &expectedMap)
	test.That(t, err, test.ShouldBeNil)

	actualMap := make(map[string]any)
	err = json.Unmarshal([]byte(actualParts[5]), &actualMap)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, actualMap, test.ShouldResemble, expectedMap)
}

func TestConsoleOutputFormat(t *testing.T) {
	notStdout := &bytes.Buffer{}
	logger := newLogger("impl", DEBUG, true, NewWriterAppender(notStdout))

	logger.Info("impl Info log")
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	INFO	impl	logging/impl_test.go:67	impl Info log`)

	logger.Infof("impl %s log", "infof")
	assertLogMatches(t, notStdout,
		`2023-10-30T09:45:20.764Z	INFO	impl	logging/impl_test.go:131	impl infof log`)

	logger.Infow("impl logw", "key", "value")
	assertLogMatches(t, notStdout,
		`2023-10-30T13:19:45.806Z	INFO	impl	logging/impl_test.go:132	impl logw	{"key":"value"}`)

	logger.Infow("BasicStruct", "implOneKey", "1val", "BasicStruct", BasicStruct{1, "alice"})
	assertLogMatches(t, notStdout,
		`2023-10-30T13:20:47.129Z	INFO	impl	logging/impl_test.go:125	BasicStruct	{"BasicStruct":{"X":1},"implOneKey":"1val"}`)

	logger.Infow("unpaired", "lonely")
	assertLogMatches(t, notStdout,
		`2023-10-30T13:20:47.129Z	INFO	impl	logging/impl_test.go:125	unpaired	{"lonely":"unpaired log key"}`)
}

func TestLevels(t *testing.T) {
	notStdout := &bytes.Buffer{}
	logger := newLogger("levels", WARN, true, NewWriterAppender(notStdout))

	logger.Debug("hidden")
	logger.Info("hidden")
	test.That(t, notStdout.Len(), test.ShouldEqual, 0)

	logger.Warn("shown")
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	WARN	levels	logging/impl_test.go:90	shown`)

	logger.SetLevel(DEBUG)
	test.That(t, logger.GetLevel(), test.ShouldEqual, DEBUG)
	logger.Debugf("now %s", "shown")
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	DEBUG	levels	logging/impl_test.go:96	now shown`)
}

func TestSublogger(t *testing.T) {
	notStdout := &bytes.Buffer{}
	logger := newLogger("parent", INFO, true, NewWriterAppender(notStdout))

	sub := logger.Sublogger("child")
	sub.Info("from child")
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	INFO	parent.child	logging/impl_test.go:105	from child`)

	// Levels are copied at creation time, not shared.
	sub.SetLevel(ERROR)
	test.That(t, logger.GetLevel(), test.ShouldEqual, INFO)
}

func TestLevelFromString(t *testing.T) {
	for _, tc := range []struct {
		input    string
		expected Level
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"Warn", WARN},
		{"warning", WARN},
		{"error", ERROR},
	} {
		t.Run(tc.input, func(t *testing.T) {
			level, err := LevelFromString(tc.input)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, level, test.ShouldEqual, tc.expected)
		})
	}

	_, err := LevelFromString("verbose")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unknown log level")
}

func TestObservedTestLogger(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)
	logger.Infow("observed", "k", 1)
	logger.Debug("also observed")

	test.That(t, logs.FilterMessage("observed").Len(), test.ShouldEqual, 1)
	test.That(t, logs.FilterMessageSnippet("also").Len(), test.ShouldEqual, 1)
}

func TestGlobalDebugOverridesLevel(t *testing.T) {
	notStdout := &bytes.Buffer{}
	logger := newLogger("global", ERROR, true, NewWriterAppender(notStdout))

	logger.Info("hidden")
	test.That(t, notStdout.Len(), test.ShouldEqual, 0)

	GlobalLogLevel.SetLevel(zapcore.DebugLevel)
	defer GlobalLogLevel.SetLevel(zapcore.InfoLevel)
	logger.Debug("shown")
	test.That(t, notStdout.String(), test.ShouldContainSubstring, "\tshown")
}

func TestZapSurfacesReachObserver(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)

	logger.With("k", 1).Info("through with")
	logger.Named("zapped").Infow("through named")
	test.That(t, logs.FilterMessage("through with").Len(), test.ShouldEqual, 1)
	test.That(t, logs.FilterMessage("through named").Len(), test.ShouldEqual, 1)
	test.That(t, logger.Level(), test.ShouldEqual, zapcore.DebugLevel)
}
