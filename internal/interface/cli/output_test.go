package cli

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/ticket-rag/internal/core/ingestion"
	"github.com/jinford/ticket-rag/internal/core/search"
	"github.com/jinford/ticket-rag/internal/core/ticket"
	"github.com/jinford/ticket-rag/internal/infra/memory"
	"github.com/jinford/ticket-rag/internal/platform/config"
)

func TestPrintResolveResult(t *testing.T) {
	result := &ticket.ResolveResult{
		TicketID: "ticket-1",
		Response: &ticket.TicketResponse{
			Answer:         "Your domain was suspended after an abuse report.",
			References:     []string{"Domain Suspension Policy"},
			ActionRequired: ticket.ActionEscalateToAbuseTeam,
		},
		Sources: []search.RetrievedDocument{
			{Score: 0.12, Metadata: search.Metadata{Filename: "Domain Suspension Policy", Text: "Domains may be\nsuspended."}},
		},
		Relevant:  true,
		MeanScore: 0.12,
	}

	var buf bytes.Buffer
	printResolveResult(&buf, result, false)
	out := buf.String()
	assert.Contains(t, out, "Your domain was suspended")
	assert.Contains(t, out, "action_required: escalate_to_abuse_team")
	assert.Contains(t, out, "references: Domain Suspension Policy")
	assert.NotContains(t, out, "参照ソース")

	buf.Reset()
	printResolveResult(&buf, result, true)
	out = buf.String()
	assert.Contains(t, out, "参照ソース")
	assert.Contains(t, out, "0.1200")
	assert.Contains(t, out, "Domains may be suspended.")
}

func TestPrintBuildResult(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	var buf bytes.Buffer
	printBuildResult(&buf, cfg, &ingestion.BuildResult{
		Documents: 3,
		Chunks:    10,
		Failures:  []ingestion.SplitFailure{{Document: "Broken", Err: errors.New("invalid utf-8")}},
		Duration:  2 * time.Second,
	})

	out := buf.String()
	assert.Contains(t, out, "10")
	assert.Contains(t, out, cfg.Index.SnapshotPath)
	assert.Contains(t, out, "分割失敗: Broken (invalid utf-8)")
}

func TestPrintIndexStats(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	index, err := memory.NewIndex(3)
	require.NoError(t, err)

	var buf bytes.Buffer
	printIndexStats(&buf, cfg, index, 42)
	out := buf.String()
	assert.Contains(t, out, "42")
	assert.Contains(t, out, string(search.MetricSquaredL2))
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "short text", excerpt("short\n text", 20))
	assert.Equal(t, "ドメイン…", excerpt("ドメインの停止", 4))
}
