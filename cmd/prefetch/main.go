package main

// The prefetch tool downloads the assets named by a manifest into a local
// cache directory, and can inspect or empty that cache.

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/vrstage/prefetch/content"
	"github.com/vrstage/prefetch/mdstore"
	"github.com/vrstage/prefetch/prefetch"
	"github.com/vrstage/prefetch/store"
	"github.com/vrstage/prefetch/util"
)

// various command line flags, with default values

var (
	cachedir  = flag.String("cache", defaultCacheDir(), "cache directory")
	mysql     = flag.String("mysql", "", "MySQL database to store metadata in, overrides the embedded database")
	ratelimit = flag.Int("ratelimit", 0, "download rate limit in bytes per second, 0 for none")
	verbose   = flag.Bool("v", false, "display more information")
	usage     = `
prefetch <command> <arguments>

Possible commands:

    fetch <manifest.json>
    info
    clear

`
)

func main() {
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Print(usage)
		os.Exit(1)
	}

	md, err := openMetadata()
	if err != nil {
		log.Fatalln("metadata store:", err)
	}
	cc := content.New(store.NewFileSystem(*cachedir))

	ok := true
	switch args[0] {
	case "fetch":
		if len(args) != 2 {
			fmt.Println("Usage: prefetch <flags> fetch <manifest.json>")
			os.Exit(1)
		}
		ok = doFetch(md, cc, args[1])
	case "info":
		doInfo(md, cc)
	case "clear":
		ok = doClear(md, cc)
	default:
		fmt.Print(usage)
		os.Exit(1)
	}
	if !ok {
		os.Exit(1)
	}
}

func defaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".prefetch"
	}
	return filepath.Join(home, ".prefetch")
}

func openMetadata() (mdstore.Store, error) {
	if *mysql != "" {
		return mdstore.NewMySQL(*mysql)
	}
	os.MkdirAll(*cachedir, 0755)
	return mdstore.NewQL(filepath.Join(*cachedir, "prefetch.ql"))
}

func doFetch(md mdstore.Store, cc *content.Cache, manifestfile string) bool {
	f, err := os.Open(manifestfile)
	if err != nil {
		fmt.Println(err)
		return false
	}
	requests, err := prefetch.ParseManifest(f)
	f.Close()
	if err != nil {
		fmt.Println("Error reading manifest:", err)
		return false
	}

	runner := &prefetch.Runner{
		Metadata: md,
		Content:  cc,
		Client:   &http.Client{Timeout: 10 * time.Minute},
	}
	if *ratelimit > 0 {
		runner.Rate = util.NewRateCounter(float64(*ratelimit))
		defer runner.Rate.Stop()
	}

	results := runner.Run(requests, prefetch.Callbacks{
		FileStart: func(id, name string) {
			fmt.Printf("%s... ", name)
		},
		Progress: func(done float64, total int, name string) {
			if *verbose {
				fmt.Printf("\r%s... %3.0f%% ", name, done/float64(total)*100)
			}
		},
		FileComplete: func(id, name string, size int64) {
			if *verbose {
				fmt.Printf("\r%s... ", name)
			}
			fmt.Printf("done (%d bytes)\n", size)
		},
		FileError: func(id, name string, err error) {
			if *verbose {
				fmt.Printf("\r%s... ", name)
			}
			fmt.Println("error:", err)
		},
	})

	nfail := 0
	for _, res := range results {
		if res.Outcome == prefetch.Failed {
			nfail++
		}
	}
	fmt.Printf("%d assets, %d failed\n", len(results), nfail)
	return nfail == 0
}

func doInfo(md mdstore.Store, cc *content.Cache) {
	admin := prefetch.Admin{Metadata: md, Content: cc}
	info, err := admin.CacheInfo()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	fmt.Printf("Cache version %s\n", info.Version)
	fmt.Printf("%d files, %d bytes\n", info.FileCount, info.TotalSize)
	if info.MostRecent != nil {
		fmt.Println("Most recent download:", info.MostRecent.Format(time.RFC1123))
	}
	if *verbose {
		for _, rec := range info.Records {
			fmt.Printf("  %s  %d bytes  %s\n", rec.ID, rec.Size, rec.ContentType)
		}
	}
}

func doClear(md mdstore.Store, cc *content.Cache) bool {
	admin := prefetch.Admin{Metadata: md, Content: cc}
	if err := admin.ClearAll(); err != nil {
		fmt.Println(err)
		return false
	}
	fmt.Println("cleared")
	return true
}
