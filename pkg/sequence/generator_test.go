package sequence

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLocalNext(t *testing.T) {
	g := NewLocal()
	g.now = func() time.Time { return time.Date(2024, 6, 1, 23, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	first, err := g.Next(ctx, PrefixPayout)
	require.NoError(t, err)
	require.Regexp(t, regexp.MustCompile(`^PO-240601-001[A-Z2-9]{2}$`), first)

	second, err := g.Next(ctx, PrefixPayout)
	require.NoError(t, err)
	require.Regexp(t, `^PO-240601-002`, second)

	run, err := g.Next(ctx, PrefixRun)
	require.NoError(t, err)
	require.Regexp(t, `^RUN-240601-001`, run)
}

func TestFormatPadsAndEncodesBase36(t *testing.T) {
	ref, err := format("PO", "240601", 36*36+35)
	require.NoError(t, err)
	require.Regexp(t, `^PO-240601-10Z`, ref)
}
