package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MayankBharati/solidtracker/internal/api"
)

func TestParseFormatAutoIsJSONOffTerminal(t *testing.T) {
	f, err := parseFormat("auto", &bytes.Buffer{})
	require.NoError(t, err)
	require.Equal(t, formatJSON, f)

	f, err = parseFormat("table", &bytes.Buffer{})
	require.NoError(t, err)
	require.Equal(t, formatTable, f)

	_, err = parseFormat("yaml", &bytes.Buffer{})
	require.Error(t, err)
}

func TestPrinterEmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf, formatJSON)
	require.NoError(t, p.emit(api.SyncResponse{EntityType: "project", EntityID: "p1", Status: "success"}, nil, nil))

	var decoded api.SyncResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, "p1", decoded.EntityID)
}

func TestPrinterEmitsTable(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf, formatTable)
	require.NoError(t, p.emit(nil, []string{"SCOPE", "SYNCED"}, [][]string{{"employees", "3"}}))
	require.Contains(t, buf.String(), "SCOPE")
	require.Contains(t, buf.String(), "employees")
}

func TestSyncDetailListsMissingDependencies(t *testing.T) {
	detail := syncDetail(api.SyncResponse{Detail: "dependency not synced", Missing: []string{"project:p1", "employee:e1"}})
	require.Equal(t, "dependency not synced (sync first: project:p1, employee:e1)", detail)
	require.Equal(t, "-", syncDetail(api.SyncResponse{}))
}
