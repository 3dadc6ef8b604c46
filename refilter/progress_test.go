package refilter

import (
	"bytes"
	"strings"
	"testing"

	"github.com/poiesic/archivist/core"
	"github.com/stretchr/testify/assert"
)

func TestPassLog_ReportsAtInterval(t *testing.T) {
	var buf bytes.Buffer
	pass := newPassLog(&buf, 5, 2)

	acme := core.Lineage{ServiceID: "Acme", DocumentType: "Terms"}
	globex := core.Lineage{ServiceID: "Globex", DocumentType: "Privacy Policy"}

	pass.observe(acme, outcomeRecorded)
	assert.Empty(t, buf.String())

	pass.observe(globex, outcomeUnchanged)
	assert.Contains(t, buf.String(), "[2/5] Globex/Privacy Policy unchanged")

	pass.observe(acme, outcomeFailed)
	assert.Contains(t, buf.String(), "[3/5] Acme/Terms failed", "failures are always reported")

	pass.observe(acme, outcomeSkipped)
	pass.observe(globex, outcomeRecorded)
	assert.Contains(t, buf.String(), "[5/5] Globex/Privacy Policy recorded")

	summary := pass.finish()
	assert.Equal(t, Summary{Documents: 5, Recorded: 2, Unchanged: 1, Skipped: 1, Failed: 1}, summary)
	assert.Contains(t, buf.String(), "Refilter complete. 2 recorded, 1 unchanged, 1 skipped, 1 failed")
	assert.True(t, strings.HasSuffix(buf.String(), "\n"))
}

func TestPassLog_IntervalFloor(t *testing.T) {
	var buf bytes.Buffer
	pass := newPassLog(&buf, 2, 0)

	pass.observe(core.Lineage{ServiceID: "Acme", DocumentType: "Terms"}, outcomeRecorded)
	assert.Contains(t, buf.String(), "[1/2] Acme/Terms recorded")
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "recorded", outcomeRecorded.String())
	assert.Equal(t, "skipped", outcomeSkipped.String())
	assert.Equal(t, "outcome(9)", outcome(9).String())
}
