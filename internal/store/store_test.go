package store

import "testing"

func TestDetectDriver(t *testing.T) {
	tests := []struct {
		conn string
		want string
	}{
		{"clickhouse://default:pw@ch.internal:8123/ipfix", "clickhouse"},
		{"http://localhost:8123/ipfix", "clickhouse"},
		{"https://ch.example.com/ipfix", "clickhouse"},
		{"postgres://user:pw@localhost:5432/flows", "postgres"},
		{"postgresql://localhost/flows", "postgres"},
		{"libsql://db.turso.io", "libsql"},
		{"file:flows.db", "sqlite"},
		{":memory:", "sqlite"},
		{"flows.db", "sqlite"},
		{"./data/flows.sqlite3", "sqlite"},
		{"host=localhost dbname=flows", "postgres"},
	}
	for _, tt := range tests {
		if got := DetectDriver(tt.conn); got != tt.want {
			t.Errorf("DetectDriver(%q) = %q, want %q", tt.conn, got, tt.want)
		}
	}
}

func TestGetSQLDriverName(t *testing.T) {
	tests := []struct {
		driver string
		want   string
	}{
		{"sqlite", "sqlite"},
		{"libsql", "libsql"},
		{"postgres", "postgres"},
	}
	for _, tt := range tests {
		if got := GetSQLDriverName(tt.driver); got != tt.want {
			t.Errorf("GetSQLDriverName(%q) = %q, want %q", tt.driver, got, tt.want)
		}
	}
}
