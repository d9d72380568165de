/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: forms_test.go
Description: Tests for form and table capture and dashboard identity extraction.
*/

package snapshot_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kleascm/kronos-explorer/pkg/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const configPage = `<html><body>
<form action="/general" method="post">
  <input id="identifier" name="identifier" type="text" value="Kronos" required>
  <input id="location" name="location" placeholder="Site" readonly>
  <select id="baud" name="baud">
    <option value="9600">9600</option>
    <option value="19200" selected>19200</option>
  </select>
  <button id="button_save" class="btn btn-primary" disabled>Save</button>
</form>
<form><textarea name="notes"></textarea></form>
</body></html>`

const dashboardPage = `<html><body>
<table>
  <thead><tr><th>Device Information</th><th></th></tr></thead>
  <tbody>
    <tr><td>Hardware Model</td><td>KRONOS-3R-HVLV-TCXO-A2F</td></tr>
    <tr><td>Firmware Version</td><td>4.2.1</td></tr>
    <tr><td>Serial Number</td><td>SN-0042</td></tr>
    <tr><td>Location</td><td>Rack 3</td></tr>
    <tr></tr>
  </tbody>
</table>
<table><tbody><tr><td>GNSS</td><td>Locked</td></tr></tbody></table>
</body></html>`

func TestCaptureForms(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	doc, err := snapshot.CaptureForms(configPage, now)
	require.NoError(t, err)
	require.Len(t, doc.Forms, 2)
	assert.Equal(t, now, doc.Timestamp)

	general := doc.Forms[0]
	assert.Equal(t, "/general", general.Action)
	assert.Equal(t, "post", general.Method)
	require.Len(t, general.Controls, 4)

	id := general.Controls[0]
	assert.Equal(t, "INPUT", id.Tag)
	assert.Equal(t, "identifier", id.Name)
	assert.Equal(t, "Kronos", id.Value)
	assert.True(t, id.Required)
	assert.True(t, general.Controls[1].ReadOnly)

	baud := general.Controls[2]
	assert.Equal(t, "SELECT", baud.Tag)
	require.Len(t, baud.Options, 2)
	assert.True(t, baud.Options[1].Selected)
	assert.False(t, baud.Options[0].Selected)

	assert.True(t, general.Controls[3].Disabled)
	assert.Equal(t, "TEXTAREA", doc.Forms[1].Controls[0].Tag)
}

func TestCaptureTablesAndDeviceInfo(t *testing.T) {
	tables, err := snapshot.CaptureTables(dashboardPage)
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, []string{"Device Information", ""}, tables[0].Headers)
	assert.Len(t, tables[0].Rows, 4, "empty rows are dropped")
	assert.Empty(t, tables[1].Headers)

	info := snapshot.ExtractDeviceInfo(tables)
	assert.Equal(t, "KRONOS-3R-HVLV-TCXO-A2F", info.Model)
	assert.Equal(t, "4.2.1", info.Firmware)
	assert.Equal(t, "SN-0042", info.Serial)
	assert.Equal(t, "Rack 3", info.Location)

	assert.Equal(t, snapshot.DeviceInfo{}, snapshot.ExtractDeviceInfo(tables[1:]))
}

func TestWritePageCaptures(t *testing.T) {
	store := snapshot.NewStore(t.TempDir(), nil, quietLogger())
	session, err := store.Session("run", "10.1.1.1", "desktop")
	require.NoError(t, err)

	forms, tables, err := session.WritePageCaptures("config_general", configPage)
	require.NoError(t, err)
	assert.Empty(t, tables)
	assert.Len(t, forms.Forms, 2)

	data, err := os.ReadFile(filepath.Join(session.Dir(), "config_general_forms.json"))
	require.NoError(t, err)
	var doc snapshot.FormsDocument
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Len(t, doc.Forms, 2)
	assert.NoFileExists(t, filepath.Join(session.Dir(), "config_general_tables.json"))

	_, tables, err = session.WritePageCaptures("dashboard", dashboardPage)
	require.NoError(t, err)
	assert.Len(t, tables, 2)
	assert.FileExists(t, filepath.Join(session.Dir(), "dashboard_tables.json"))
}
