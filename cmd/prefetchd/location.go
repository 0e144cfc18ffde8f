package main

import (
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"

	"github.com/vrstage/prefetch/store"
)

// splitBucketPrefix will take a path and separate the bucket name from a
// prefix, if any. The prefix returned is either empty or ends with a slash.
//
// examples:
// 		"" -> ("", "")
//		"bucket" -> ("bucket", "")
//		"bucket/and/a/prefix" -> ("bucket", "and/a/prefix/")
func splitBucketPrefix(location string) (bucket, prefix string) {
	if location == "" {
		return
	}
	location = strings.TrimPrefix(location, "/")
	v := strings.SplitN(location, "/", 2)
	bucket = v[0]
	if len(v) > 1 {
		prefix = v[1]
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix = prefix + "/"
	}
	return
}

// parselocation will create an approprate store based on "location".
// In case of an error, nil is returned.
// If location is empty, a memory store is returned.
// It understands the special scheme "s3:".
func parselocation(location string) store.Store {
	if location == "" {
		return store.NewMemory()
	}
	u, _ := url.Parse(location)
	switch u.Scheme {
	case "", "file":
		os.MkdirAll(u.Path, 0755)
		return store.NewFileSystem(u.Path)
	case "s3":
		conf := &aws.Config{}
		if u.Host != "" {
			conf.Endpoint = aws.String(u.Host)
			conf.Region = aws.String("us-east-1")
			// disable SSL for local development
			if strings.Contains(u.Host, "localhost") {
				conf.DisableSSL = aws.Bool(true)
				conf.S3ForcePathStyle = aws.Bool(true)
			}
		}
		bucket, prefix := splitBucketPrefix(u.Path)
		if bucket == "" {
			log.Println("Error parsing location, no bucket name", location)
			return nil
		}
		return store.NewS3(bucket, prefix, session.New(conf))
	}
	log.Println("Problem parsing location", location)
	return nil
}

// qlpath gives the location of the embedded metadata database when assets
// are stored in a local directory. S3 and memory asset stores need either a
// MySQL database or no persistence at all.
func qlpath(location string) string {
	if location == "" {
		return ""
	}
	u, _ := url.Parse(location)
	if u == nil || (u.Scheme != "" && u.Scheme != "file") {
		return ""
	}
	return filepath.Join(u.Path, "prefetch.ql")
}
