package format

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvoiceNumber(t *testing.T) {
	issued := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)

	cases := []struct {
		template string
		seq      int64
		want     string
	}{
		{TemplateFromPrefix("INV-"), 1001, "INV-1001"},
		{TemplateFromPrefix(""), 7, "INV-7"},
		{"SF-{YYYY}{MM}{DD}-{SEQ6}", 42, "SF-20260309-000042"},
		{"{YY}/{SEQ}", 3, "26/3"},
	}
	for _, tc := range cases {
		got, err := InvoiceNumber(tc.template, issued, tc.seq)
		require.NoError(t, err, tc.template)
		assert.Equal(t, tc.want, got)
	}
}

func TestInvoiceNumberRejectsBadInput(t *testing.T) {
	_, err := InvoiceNumber("INV-{SEQ}", time.Now(), 0)
	assert.Error(t, err)

	_, err = InvoiceNumber("INV-{UNKNOWN}", time.Now(), 1)
	assert.Error(t, err)

	_, err = InvoiceNumber("", time.Now(), 1)
	assert.Error(t, err)
}
