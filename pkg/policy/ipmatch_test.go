package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIPMatcher(t *testing.T) {
	m := CompileIPMatcher([]string{
		"10.0.0.0/8",
		"192.168.1.4",
		"2001:db8::/32",
		"::ffff:172.16.0.0/108",
		"bogus",
		"300.1.1.1",
		"",
	})

	assert.Equal(t, 4, m.Len())
	assert.Equal(t, []string{"bogus", "300.1.1.1"}, m.Invalid())

	tests := []struct {
		ip   string
		want bool
	}{
		{"10.255.0.1", true},
		{"10.1.2.3:54321", true},
		{"11.0.0.1", false},
		{"192.168.1.4", true},
		{"192.168.1.5", false},
		{"::ffff:192.168.1.4", true},
		{"2001:db8:1::7", true},
		{"[2001:db8::1]:443", true},
		{"2001:db9::1", false},
		{"172.16.5.5", true},
		{"172.32.0.1", false},
		{"fe80::1%eth0", false},
		{"", false},
		{"bogus", false},
	}
	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Contains(tt.ip))
		})
	}
}

func TestIPMatcher_NonCanonicalPrefix(t *testing.T) {
	m := CompileIPMatcher([]string{"10.1.2.3/8"})
	assert.True(t, m.Contains("10.200.0.1"))
}

func TestParseCallerIP(t *testing.T) {
	addr, ok := ParseCallerIP("[::1]:8080")
	assert.True(t, ok)
	assert.Equal(t, "::1", addr.String())

	addr, ok = ParseCallerIP("::ffff:10.0.0.1")
	assert.True(t, ok)
	assert.True(t, addr.Is4())

	_, ok = ParseCallerIP("example.com:80")
	assert.False(t, ok)
}
