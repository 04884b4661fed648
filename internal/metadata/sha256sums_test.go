package metadata

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSHA256SUMSStripsBinaryModeStar(t *testing.T) {
	manifest := "aaaa111  *netboot/vmlinuz\nbbbb222  cdrom/debian-cd.iso\n"
	entries, err := ParseSHA256SUMS(strings.NewReader(manifest))
	require.NoError(t, err)
	require.Equal(t, []SHA256SumsEntry{
		{SHA256: "aaaa111", RelativePath: "netboot/vmlinuz"},
		{SHA256: "bbbb222", RelativePath: "cdrom/debian-cd.iso"},
	}, entries)
}

func TestParseSHA256SUMSSkipsBlankLines(t *testing.T) {
	manifest := "aaaa111  netboot/vmlinuz\n\n\nbbbb222  cdrom/debian-cd.iso\n"
	entries, err := ParseSHA256SUMS(strings.NewReader(manifest))
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestParseSHA256SUMSRejectsMalformedLine(t *testing.T) {
	_, err := ParseSHA256SUMS(strings.NewReader("this-line-has-only-one-field\n"))
	require.Error(t, err)
}

func TestGroupByHashCollapsesRepublishedImages(t *testing.T) {
	entries := []SHA256SumsEntry{
		{SHA256: "aaaa", RelativePath: "netboot/vmlinuz"},
		{SHA256: "aaaa", RelativePath: "netboot/also-vmlinuz"},
		{SHA256: "bbbb", RelativePath: "cdrom/debian-cd.iso"},
	}
	grouped := GroupByHash(entries)
	require.ElementsMatch(t, []string{"netboot/vmlinuz", "netboot/also-vmlinuz"}, grouped["aaaa"])
	require.Equal(t, []string{"cdrom/debian-cd.iso"}, grouped["bbbb"])
}
