package service

import (
	"FetchVault/config"
	"FetchVault/model"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMagnet = "magnet:?xt=urn:btih:c12fe1c06bba254a9dc9f519b335aa7c1367a88a"

func TestValidateSubmissionMagnet(t *testing.T) {
	require.NoError(t, ValidateSubmission(model.SourceSwarm, testMagnet, model.ModeAuto, ""))
	require.NoError(t, ValidateSubmission(model.SourceSwarm, testMagnet, model.ModeSelect, "my label"))
}

func TestValidateSubmissionRejects(t *testing.T) {
	cases := []struct {
		name       string
		sourceKind string
		source     string
		mode       string
		label      string
	}{
		{"empty source", model.SourceSwarm, "", model.ModeAuto, ""},
		{"oversized source", model.SourceSwarm, "magnet:?" + strings.Repeat("x", maxSourceLength), model.ModeAuto, ""},
		{"bad mode", model.SourceSwarm, testMagnet, "eager", ""},
		{"not a magnet", model.SourceSwarm, "https://example.com/file.torrent", model.ModeAuto, ""},
		{"no infohash", model.SourceSwarm, "magnet:?dn=nothing", model.ModeAuto, ""},
		{"unknown kind", "carrier-pigeon", testMagnet, model.ModeAuto, ""},
		{"bad scheme", model.SourceDirectURL, "ftp://example.com/a.iso", model.ModeAuto, ""},
		{"missing host", model.SourceDirectURL, "https:///a.iso", model.ModeAuto, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateSubmission(tc.sourceKind, tc.source, tc.mode, tc.label)
			require.Error(t, err)
			var ve *ValidationError
			assert.ErrorAs(t, err, &ve)
		})
	}
}

func TestValidateSubmissionLabelLength(t *testing.T) {
	old := config.AppConfig.MaxLabelLength
	config.AppConfig.MaxLabelLength = 10
	defer func() { config.AppConfig.MaxLabelLength = old }()

	require.NoError(t, ValidateSubmission(model.SourceSwarm, testMagnet, model.ModeAuto, "short"))
	err := ValidateSubmission(model.SourceSwarm, testMagnet, model.ModeAuto, strings.Repeat("a", 11))
	require.Error(t, err)
}

func TestValidateSourceURLBlocksPrivate(t *testing.T) {
	oldPrivate := config.AppConfig.AllowPrivate
	config.AppConfig.AllowPrivate = false
	defer func() { config.AppConfig.AllowPrivate = oldPrivate }()

	for _, raw := range []string{
		"http://127.0.0.1/a.iso",
		"http://10.0.0.8/a.iso",
		"http://192.168.1.5:8080/a.iso",
		"http://localhost/a.iso",
		"http://printer.local/a.iso",
		"http://0.0.0.0/a.iso",
	} {
		_, err := validateSourceURL(raw)
		require.Error(t, err, raw)
	}
}

func TestValidateSourceURLAllowPrivate(t *testing.T) {
	oldPrivate := config.AppConfig.AllowPrivate
	config.AppConfig.AllowPrivate = true
	defer func() { config.AppConfig.AllowPrivate = oldPrivate }()

	u, err := validateSourceURL("http://192.168.1.5/a.iso")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.5", u.Hostname())
}

func TestValidateSourceURLPublicIPLiteral(t *testing.T) {
	oldPrivate := config.AppConfig.AllowPrivate
	config.AppConfig.AllowPrivate = false
	defer func() { config.AppConfig.AllowPrivate = oldPrivate }()

	_, err := validateSourceURL("https://93.184.216.34/a.iso")
	require.NoError(t, err)
}

func TestHostAllowed(t *testing.T) {
	assert.True(t, hostAllowed("example.com", nil))
	assert.True(t, hostAllowed("example.com", []string{"example.com"}))
	assert.True(t, hostAllowed("EXAMPLE.com", []string{"example.com"}))
	assert.True(t, hostAllowed("cdn.example.com", []string{".example.com"}))
	assert.False(t, hostAllowed("example.com.evil.net", []string{"example.com"}))
	assert.False(t, hostAllowed("other.net", []string{"example.com"}))
}

func TestIsBlockedIP(t *testing.T) {
	blocked := []string{"127.0.0.1", "10.1.2.3", "172.16.0.1", "192.168.0.1", "169.254.1.1", "0.0.0.0", "::1", "fe80::1"}
	for _, raw := range blocked {
		assert.True(t, isBlockedIP(net.ParseIP(raw)), raw)
	}
	allowed := []string{"93.184.216.34", "8.8.8.8", "2606:2800:220:1:248:1893:25c8:1946"}
	for _, raw := range allowed {
		assert.False(t, isBlockedIP(net.ParseIP(raw)), raw)
	}
	assert.True(t, isBlockedIP(nil))
}
