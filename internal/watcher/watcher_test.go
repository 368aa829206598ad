package watcher

import "testing"

func TestSourceFromFilename(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"/spool/ops-box_arp.txt", "ops-box"},
		{"/spool/ops-box_route_print.txt", "ops-box"},
		{"/spool/gateway.dump", "gateway"},
		{"/spool/plain", "plain"},
	}
	for _, tc := range cases {
		if got := sourceFromFilename(tc.path); got != tc.want {
			t.Errorf("sourceFromFilename(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}
