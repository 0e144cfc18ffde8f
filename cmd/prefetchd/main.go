package main

// The prefetchd daemon serves assets out of a prefetched cache, proxying
// misses to the upstream asset server. Configuration is taken from an
// optional TOML file with command line overrides.

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/BurntSushi/toml"
	raven "github.com/getsentry/raven-go"

	"github.com/vrstage/prefetch/blobcache"
	"github.com/vrstage/prefetch/content"
	"github.com/vrstage/prefetch/mdstore"
	"github.com/vrstage/prefetch/prefetch"
	"github.com/vrstage/prefetch/server"
)

type config struct {
	Upstream   string
	StorageDir string
	PortNumber string
	PProfPort  string
	Mysql      string
	CacheDir   string
	CacheSize  int64
	SentryDSN  string
}

func main() {
	var (
		showVersion = flag.Bool("version", false, "display the version and exit")
		configFile  = flag.String("config-file", "", "location of configuration file")
		upstream    = flag.String("upstream", "", "base URL of the upstream asset server")
		storageDir  = flag.String("storage-dir", "", "location of the prefetched asset store")
		portNumber  = flag.String("port", "", "listen port (default 14500)")
		pprofPort   = flag.String("pprof-port", "", "if given, pprof is served on this port")
		mysql       = flag.String("mysql", "", "MySQL database for asset metadata, overrides the embedded database")
		cacheDir    = flag.String("cache-dir", "", "location of the on-demand fill cache")
		cacheSize   = flag.Int64("cache-size", 0, "on-demand fill cache size in MB, 0 disables the fill cache")
	)
	flag.Parse()

	if *showVersion {
		log.Printf("prefetchd version %s\n", server.Version)
		return
	}

	var conf config
	if *configFile != "" {
		log.Println("Reading config file", *configFile)
		if _, err := toml.DecodeFile(*configFile, &conf); err != nil {
			log.Fatalln(err)
		}
	}
	// command line options override the config file
	if *upstream != "" {
		conf.Upstream = *upstream
	}
	if *storageDir != "" {
		conf.StorageDir = *storageDir
	}
	if *portNumber != "" {
		conf.PortNumber = *portNumber
	}
	if *pprofPort != "" {
		conf.PProfPort = *pprofPort
	}
	if *mysql != "" {
		conf.Mysql = *mysql
	}
	if *cacheDir != "" {
		conf.CacheDir = *cacheDir
	}
	if *cacheSize != 0 {
		conf.CacheSize = *cacheSize
	}

	if conf.SentryDSN != "" {
		raven.SetDSN(conf.SentryDSN)
		raven.SetRelease(server.Version)
	}

	raven.CapturePanic(func() {
		runserver(conf)
	}, nil)
}

func runserver(conf config) {
	contentStore := parselocation(conf.StorageDir)
	if contentStore == nil {
		log.Fatalln("Could not use storage location", conf.StorageDir)
	}
	cc := content.New(contentStore)

	var hot blobcache.Cache
	if conf.CacheSize > 0 {
		fillStore := parselocation(conf.CacheDir)
		if fillStore == nil {
			log.Fatalln("Could not use cache location", conf.CacheDir)
		}
		lru := blobcache.NewLRU(fillStore, conf.CacheSize*1000000)
		go lru.Scan()
		hot = lru
	}

	var md mdstore.Store
	var err error
	switch {
	case conf.Mysql != "":
		md, err = mdstore.NewMySQL(conf.Mysql)
	case qlpath(conf.StorageDir) != "":
		md, err = mdstore.NewQL(qlpath(conf.StorageDir))
	default:
		// no durable location for metadata, so skips only last the process
		md = mdstore.NewMemory()
	}
	if err != nil {
		log.Fatalln("metadata store:", err)
	}

	s := &server.Server{
		PortNumber: conf.PortNumber,
		PProfPort:  conf.PProfPort,
		Upstream:   conf.Upstream,
		Content:    cc,
		Runner:     &prefetch.Runner{Metadata: md, Content: cc},
		Admin:      prefetch.Admin{Metadata: md, Content: cc, Proxy: hot},
		Hot:        hot,
	}

	// set up signal handlers
	sig := make(chan os.Signal, 5)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s2 := <-sig
		log.Println("---Received signal", s2)
		s.Stop()
	}()

	err = s.Run()
	if err != nil {
		log.Println(err)
	}
	log.Println("Exiting")
}
