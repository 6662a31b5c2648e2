package classifier_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m-mizutani/iocdb"
	"github.com/m-mizutani/iocdb/pkg/classifier"
	"github.com/m-mizutani/iocdb/pkg/errors"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		value    string
		expected iocdb.IOCType
	}{
		{"CVE-2024-1234", iocdb.TypeCVE},
		{"cve-2021-44228", iocdb.TypeCVE},
		{"d41d8cd98f00b204e9800998ecf8427e", iocdb.TypeHash},
		{"da39a3ee5e6b4b0d3255bfef95601890afd80709", iocdb.TypeHash},
		{"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", iocdb.TypeHash},
		{"phish@example.com", iocdb.TypeEmail},
		{"https://evil.example.com/payload.bin", iocdb.TypeURL},
		{"HTTP://EVIL.EXAMPLE.COM/x", iocdb.TypeURL},
		{"ftp://198.51.100.1/drop", iocdb.TypeURL},
		{"8.8.8.8", iocdb.TypeIPAddr},
		{"2001:db8::1", iocdb.TypeIPAddr},
		{"198.51.100.0/24", iocdb.TypeIPAddr},
		{"evil.example.com", iocdb.TypeDomain},
		{"  evil.example.com  ", iocdb.TypeDomain},
	}

	for _, c := range cases {
		t.Run(c.value, func(t *testing.T) {
			iocType, err := classifier.Classify(c.value)
			require.NoError(t, err)
			assert.Equal(t, c.expected, iocType)
		})
	}
}

func TestClassifyOrder(t *testing.T) {
	// A 32-char hex string is also a syntactically plausible hostname label,
	// but hash wins.
	iocType, err := classifier.Classify("d41d8cd98f00b204e9800998ecf8427e")
	require.NoError(t, err)
	assert.Equal(t, iocdb.TypeHash, iocType)

	// An IP literal must not fall through to the domain rule.
	iocType, err = classifier.Classify("192.0.2.1")
	require.NoError(t, err)
	assert.Equal(t, iocdb.TypeIPAddr, iocType)
}

func TestClassifyInvalid(t *testing.T) {
	for _, value := range []string{"", "   ", "not an indicator", "d41d8cd9", "@example.com", "a@b@c.example.com"} {
		t.Run(value, func(t *testing.T) {
			_, err := classifier.Classify(value)
			require.Error(t, err)
			assert.True(t, errors.IsInvalidValue(err))
		})
	}
}

func TestClassifyDeterministic(t *testing.T) {
	first, err := classifier.Classify("evil.example.com")
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		got, err := classifier.Classify("evil.example.com")
		require.NoError(t, err)
		require.Equal(t, first, got)
	}
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		value    string
		iocType  iocdb.IOCType
		expected string
	}{
		{"EVIL.Example.COM", iocdb.TypeDomain, "evil.example.com"},
		{"cve-2024-1234", iocdb.TypeCVE, "CVE-2024-1234"},
		{"D41D8CD98F00B204E9800998ECF8427E", iocdb.TypeHash, "d41d8cd98f00b204e9800998ecf8427e"},
		{"Phish@Example.COM", iocdb.TypeEmail, "phish@example.com"},
		// URL path case is preserved, scheme and host are not
		{"HTTPS://Evil.Example.COM/Payload.BIN", iocdb.TypeURL, "https://evil.example.com/Payload.BIN"},
		{"HTTPS://Evil.Example.COM", iocdb.TypeURL, "https://evil.example.com"},
	}

	for _, c := range cases {
		t.Run(c.value, func(t *testing.T) {
			assert.Equal(t, c.expected, classifier.Normalize(c.value, c.iocType))
		})
	}
}
