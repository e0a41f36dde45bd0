package mailtemplate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cuongbtq/otp-delivery/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemplate(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "otp_template.html")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRenderFile(t *testing.T) {
	tests := []struct {
		name string
		body string
		otp  string
		want string
	}{
		{
			name: "single placeholder",
			body: "<p>{{ otp }}</p>",
			otp:  "123456",
			want: "<p>123456</p>",
		},
		{
			name: "every occurrence replaced",
			body: "<p>{{ otp }}</p><span>{{ otp }}</span>",
			otp:  "987654",
			want: "<p>987654</p><span>987654</span>",
		},
		{
			name: "other content untouched",
			body: "<style>p { color: red; }</style>\n<p>{{otp}} {{ otp }}</p>\r\n",
			otp:  "000000",
			want: "<style>p { color: red; }</style>\n<p>{{otp}} 000000</p>\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RenderFile(writeTemplate(t, tt.body), tt.otp)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderFile_MissingFile(t *testing.T) {
	_, err := RenderFile(filepath.Join(t.TempDir(), "missing.html"), "123456")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTemplate)
	assert.Contains(t, err.Error(), "failed to read template")
}

func TestLoad_RequiresPlaceholder(t *testing.T) {
	_, err := Load(writeTemplate(t, "<p>no code here</p>"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTemplate)
}

func TestLoad_DefaultTemplate(t *testing.T) {
	r, err := Load("")
	require.NoError(t, err)

	got, err := r.Render("424242")
	require.NoError(t, err)
	assert.Contains(t, got, "424242")
	assert.NotContains(t, got, Placeholder)
	assert.True(t, strings.HasPrefix(got, "<!DOCTYPE html>"))
}

func TestRender_RejectsInvalidOTP(t *testing.T) {
	r, err := New("<p>{{ otp }}</p>")
	require.NoError(t, err)

	tests := []struct {
		name string
		otp  string
	}{
		{name: "empty", otp: ""},
		{name: "too short", otp: "12345"},
		{name: "too long", otp: "1234567"},
		{name: "letters", otp: "12a456"},
		{name: "markup", otp: "<b>12"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Render(tt.otp)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrTemplate)
		})
	}
}

func TestWithOTPLength(t *testing.T) {
	r, err := New("{{ otp }}", WithOTPLength(8))
	require.NoError(t, err)

	got, err := r.Render("12345678")
	require.NoError(t, err)
	assert.Equal(t, "12345678", got)

	_, err = r.Render("123456")
	assert.ErrorIs(t, err, domain.ErrTemplate)

	_, err = New("{{ otp }}", WithOTPLength(3))
	assert.ErrorIs(t, err, domain.ErrTemplate)
}

func TestRender_Idempotent(t *testing.T) {
	r, err := New("<p>{{ otp }}</p>")
	require.NoError(t, err)

	first, err := r.Render("111111")
	require.NoError(t, err)
	second, err := r.Render("111111")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
