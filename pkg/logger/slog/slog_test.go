package slog_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"

	rawslog "log/slog"

	"github.com/stretchr/testify/require"

	"github.com/cozy/realtime.go/pkg/logger/slog"
)

type testMethod struct {
	fn    func(msg string, args ...any)
	level rawslog.Level
}

const (
	logText         = "subscription replayed"
	customFieldName = "doctype"
	customFieldVal  = "io.cozy.files"
)

type testLogJSON struct {
	Level     string `json:"level"`
	Msg       string `json:"msg"`
	CustomVal string `json:"doctype"`
	Conn      string `json:"conn"`
}

func TestLogger(t *testing.T) {
	buffer := bytes.NewBuffer([]byte{})

	// level needs to be set to debug for log all
	handler := rawslog.NewJSONHandler(buffer, &rawslog.HandlerOptions{Level: rawslog.LevelDebug})
	logger := slog.New(handler).With("conn", "primary")

	testMethods := []testMethod{
		{fn: logger.Error, level: rawslog.LevelError},
		{fn: logger.Warn, level: rawslog.LevelWarn},
		{fn: logger.Info, level: rawslog.LevelInfo},
		{fn: logger.Debug, level: rawslog.LevelDebug},
	}

	for _, v := range testMethods {
		t.Run(fmt.Sprintf("testing %s", v.level.String()), func(t *testing.T) {
			buffer.Reset()
			checkMethod(t, v.fn, buffer, v.level.String())
		})
	}
}

func checkMethod(t *testing.T, loggerFunc func(msg string, args ...any), buffer *bytes.Buffer, levelStr string) {
	require.Equal(t, 0, buffer.Len())

	loggerFunc(logText, customFieldName, customFieldVal)

	testLogJSONVal := new(testLogJSON)
	err := json.Unmarshal(buffer.Bytes(), testLogJSONVal)
	require.NoError(t, err)

	require.Equal(t, levelStr, testLogJSONVal.Level)
	require.Equal(t, logText, testLogJSONVal.Msg)
	require.Equal(t, customFieldVal, testLogJSONVal.CustomVal)
	require.Equal(t, "primary", testLogJSONVal.Conn)
}
