package main

import (
	"testing"

	"github.com/vrstage/prefetch/store"
)

const (
	typeMemory = iota
	typeFileSystem
	typeS3
)

func TestSplitBucketPrefix(t *testing.T) {
	var table = []struct {
		location string
		bucket   string
		prefix   string
	}{
		{"", "", ""},
		{"rel/path", "rel", "path/"},
		{"/abs/path/", "abs", "path/"},
		{"/bucket", "bucket", ""},
		{"/bucket/prefix/", "bucket", "prefix/"},
		{"/bucket/prefix", "bucket", "prefix/"},
	}

	for _, row := range table {
		t.Log(row.location)
		bucket, prefix := splitBucketPrefix(row.location)
		if bucket != row.bucket {
			t.Error("expected bucket", row.bucket, "received", bucket)
		}
		if prefix != row.prefix {
			t.Error("expected prefix", row.prefix, "received", prefix)
		}
	}
}

func TestParseLocation(t *testing.T) {
	var table = []struct {
		location string
		typ      int
		bucket   string
		prefix   string
	}{
		{"", typeMemory, "", ""},
		{"s3:/bucket", typeS3, "bucket", ""},
		{"s3://localhost:9000/bucket/prefix/", typeS3, "bucket", "prefix/"},
	}

	for _, row := range table {
		t.Log(row.location)
		result := parselocation(row.location)
		switch x := result.(type) {
		case *store.Memory:
			if row.typ != typeMemory {
				t.Errorf("unexpected received %#v", result)
			}
		case *store.S3:
			if row.typ != typeS3 {
				t.Errorf("unexpected received %#v", result)
			}
			if x.Bucket != row.bucket {
				t.Error("expected bucket", row.bucket, "received", x.Bucket)
			}
			if x.Prefix != row.prefix {
				t.Error("expected prefix", row.prefix, "received", x.Prefix)
			}
		}
	}
}

func TestQLPath(t *testing.T) {
	var table = []struct {
		location string
		path     string
	}{
		{"", ""},
		{"/var/cache/assets", "/var/cache/assets/prefetch.ql"},
		{"file:/var/cache/assets", "/var/cache/assets/prefetch.ql"},
		{"s3://localhost:9000/bucket", ""},
	}
	for _, row := range table {
		if p := qlpath(row.location); p != row.path {
			t.Errorf("qlpath(%q) = %q, expected %q", row.location, p, row.path)
		}
	}
}
