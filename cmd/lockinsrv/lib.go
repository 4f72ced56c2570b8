package main

import (
	"log"

	"github.com/benchtop-labs/lockin/daqserver"
	"github.com/benchtop-labs/lockin/httpapi"
	"github.com/benchtop-labs/lockin/server"
	"github.com/benchtop-labs/lockin/server/middleware/locker"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
)

// ObjSetup describes one data-server facade.
type ObjSetup struct {
	// Addr is the data server's host:port, e.g. localhost:8004.
	Addr string `yaml:"Addr"`

	// Endpoint is the URL stem the facade is mounted at,
	// e.g. "bench1/lockin" serves /bench1/lockin/version and friends.
	Endpoint string `yaml:"Endpoint"`

	// APILevel is the protocol level to negotiate, normally 6.
	APILevel int `yaml:"APILevel"`

	// Lock adds a lock route and busy middleware to the facade.
	Lock bool `yaml:"Lock"`
}

// Config holds the server's listen address and the facades to build.
type Config struct {
	// Addr is the address to listen at.
	Addr string `yaml:"Addr"`

	// Nodes is the list of facades to set up.
	Nodes []ObjSetup `yaml:"Nodes"`
}

// BuildMux connects every configured data server and mounts its facade on a
// chi router.
func BuildMux(c Config) chi.Router {
	root := chi.NewRouter()
	root.Use(middleware.Logger)

	if len(c.Nodes) == 0 {
		log.Fatal("no endpoints configured, run mkconf and edit the config")
	}
	seen := map[string]bool{}
	for _, node := range c.Nodes {
		apiLevel := node.APILevel
		if apiLevel == 0 {
			apiLevel = 6
		}
		sess, err := daqserver.Connect(node.Addr, apiLevel)
		if err != nil {
			log.Fatalf("connecting data server at %s: %v", node.Addr, err)
		}
		err = sess.VersionCheck()
		if err != nil {
			log.Printf("warning: %s: %v", node.Addr, err)
		}

		nt := httpapi.NewNodeTree(sess)
		r := chi.NewRouter()
		if node.Lock {
			lock := locker.New()
			locker.Inject(nt, lock)
			r.Use(lock.Check)
		}
		nt.RT().Bind(r)

		stem := server.SubMuxSanitize(node.Endpoint)
		if seen[stem] {
			log.Fatalf("duplicate endpoint %s", stem)
		}
		seen[stem] = true
		root.Mount(stem, r)
		log.Printf("mounted %s at %s", node.Addr, stem)
	}
	return root
}
