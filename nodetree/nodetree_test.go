package nodetree

import "testing"

func TestPath(t *testing.T) {
	cases := []struct {
		device   string
		elements []interface{}
		want     string
	}{
		{"dev1234", []interface{}{"demods", 0, "rate"}, "/dev1234/demods/0/rate"},
		{"DEV1234", []interface{}{"oscs", 1, "freq"}, "/dev1234/oscs/1/freq"},
		{"dev1234", []interface{}{"clockbase"}, "/dev1234/clockbase"},
		{"dev1234", nil, "/dev1234"},
	}
	for _, tc := range cases {
		got := Path(tc.device, tc.elements...)
		if got != tc.want {
			t.Errorf("Path(%q, %v) = %q, want %q", tc.device, tc.elements, got, tc.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"/dev1234/demods/0/sample":  "/dev1234/demods/0/sample",
		"DEV1234/DEMODS/0/SAMPLE":   "/dev1234/demods/0/sample",
		" /dev1234/clockbase/ ":     "/dev1234/clockbase",
		"//dev1234/sigouts/0/on":    "/dev1234/sigouts/0/on",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMatch(t *testing.T) {
	cases := []struct {
		pattern, path string
		want          bool
	}{
		{"*", "/dev1234/demods/0/sample", true},
		{"/dev1234/*", "/dev1234/demods/0/sample", true},
		{"/dev1234/demods/*", "/dev1234/demods/0/sample", true},
		{"/dev1234/demods/0/sample", "/dev1234/demods/0/sample", true},
		{"/dev1234/demods/*/sample", "/dev1234/demods/3/sample", true},
		{"/dev1234/demods/*/sample", "/dev1234/demods/3/rate", false},
		{"/dev9999/*", "/dev1234/demods/0/sample", false},
		{"/dev1234/demods/0/sample", "/dev1234/demods/0/sample/extra", false},
		{"/DEV1234/Demods/0/Sample", "/dev1234/demods/0/sample", true},
	}
	for _, tc := range cases {
		if got := Match(tc.pattern, tc.path); got != tc.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tc.pattern, tc.path, got, tc.want)
		}
	}
}

func TestDevice(t *testing.T) {
	if got := Device("/dev1234/demods/0/sample"); got != "dev1234" {
		t.Errorf("Device = %q, want dev1234", got)
	}
}

func TestSettingsPaths(t *testing.T) {
	batch := Settings{
		S("/dev1234/sigins/0/ac", 0),
		S("/dev1234/demods/0/rate", 1e3),
	}
	paths := batch.Paths()
	if len(paths) != 2 || paths[0] != "/dev1234/sigins/0/ac" {
		t.Errorf("unexpected paths: %v", paths)
	}
}
