// server/main.go
package main

import (
	"context"
	"flag"
	"log"
	"net/http"

	"github.com/joho/godotenv"
	"github.com/justinas/nosurf"

	"github.com/lazarenkov-e/hw05-final/blog"
)

// Groups are operator-managed; the public surface never creates them.
var defaultGroups = []blog.Group{
	{Title: "Travel", Slug: "travel", Description: "Trips, places and road notes"},
	{Title: "Cooking", Slug: "cooking", Description: "Recipes and kitchen experiments"},
	{Title: "Tech", Slug: "tech", Description: "Hardware, software and everything between"},
}

func main() {
	seed := flag.Bool("seed", false, "insert the default groups and exit")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}
	cfg := blog.LoadConfig()

	// Initialize the database connection.
	db, err := blog.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Could not initialize database: %v", err)
	}
	log.Println("Successfully connected to the database.")
	if err := db.CreateTables(); err != nil {
		log.Fatalf("Could not create tables: %v", err)
	}

	if *seed {
		for i := range defaultGroups {
			if err := db.CreateGroup(context.Background(), &defaultGroups[i]); err != nil {
				log.Fatalf("Could not seed group %q: %v", defaultGroups[i].Slug, err)
			}
		}
		log.Printf("Seeded %d groups.", len(defaultGroups))
		return
	}

	// The index page cache: Redis when configured, in-process otherwise.
	var cache blog.PageCache
	if cfg.RedisAddr != "" {
		cache, err = blog.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.CacheTTL)
		if err != nil {
			log.Fatalf("Could not connect to redis: %v", err)
		}
		log.Println("Successfully connected to redis.")
	} else {
		cache = blog.NewMemoryCache(cfg.CacheTTL)
	}

	// Create the blog handler, injecting the dependencies.
	blogHandler, err := blog.NewHandlers(db, cache, cfg)
	if err != nil {
		log.Fatalf("Could not create blog handler: %v", err)
	}

	// Create a new ServeMux and register the blog routes.
	mux := http.NewServeMux()
	blogHandler.RegisterRoutes(mux)

	csrfHandler := nosurf.New(mux)
	csrfHandler.SetBaseCookie(http.Cookie{Path: "/", HttpOnly: true, SameSite: http.SameSiteLaxMode})
	csrfHandler.SetFailureHandler(http.HandlerFunc(blogHandler.CSRFFailure))

	// Start the server.
	log.Printf("Starting blog server on %s", cfg.Addr)
	svr := &http.Server{
		Addr:    cfg.Addr,
		Handler: blogHandler.Session.LoadAndSave(csrfHandler),
	}
	if err := svr.ListenAndServe(); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
