package config

import "testing"

func TestExpandEnv(t *testing.T) {
	t.Setenv("STORYFORGE_TEST_HOST", "db.internal")

	cases := []struct {
		in   string
		want string
	}{
		{"host: ${STORYFORGE_TEST_HOST:localhost}", "host: db.internal"},
		{"host: ${STORYFORGE_TEST_MISSING:localhost}", "host: localhost"},
		{"port: ${STORYFORGE_TEST_MISSING_NO_DEFAULT}", "port: ${STORYFORGE_TEST_MISSING_NO_DEFAULT}"},
		{"empty: ${STORYFORGE_TEST_MISSING:}", "empty: "},
		{"plain value", "plain value"},
	}
	for _, c := range cases {
		if got := expandEnv(c.in); got != c.want {
			t.Errorf("expandEnv(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
