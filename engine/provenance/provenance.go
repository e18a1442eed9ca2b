// Package provenance records which pages contributed each stored chunk in a
// Neo4j graph: (:Page {url})-[:CONTAINS]->(:Chunk {hash, collection}).
// Dedup is global per collection, so a chunk stored once may be reachable
// from many pages; the graph keeps every source.
package provenance

import (
	"context"
	"fmt"
	"time"

	"github.com/WessleyAI/ami-rag/engine/domain"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// result is the minimal interface needed from a neo4j result.
type result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
}

// runner is the minimal interface needed from a neo4j session.
type runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (result, error)
	Close(ctx context.Context) error
}

type sessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *sessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (result, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *sessionAdapter) Close(ctx context.Context) error {
	return a.sess.Close(ctx)
}

// Graph stores page/chunk provenance.
type Graph struct {
	driver     neo4j.DriverWithContext
	newSession func(ctx context.Context) runner // for testing
	now        func() time.Time
}

// New creates a Graph on driver.
func New(driver neo4j.DriverWithContext) *Graph {
	return &Graph{driver: driver, now: time.Now}
}

// Connect opens a driver and verifies connectivity.
func Connect(ctx context.Context, url, user, pass string) (*Graph, error) {
	driver, err := neo4j.NewDriverWithContext(url, neo4j.BasicAuth(user, pass, ""))
	if err != nil {
		return nil, fmt.Errorf("provenance: driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("provenance: connect %s: %w", url, err)
	}
	return New(driver), nil
}

// Close closes the driver.
func (g *Graph) Close(ctx context.Context) error {
	if g.driver == nil {
		return nil
	}
	return g.driver.Close(ctx)
}

func (g *Graph) session(ctx context.Context) runner {
	if g.newSession != nil {
		return g.newSession(ctx)
	}
	return &sessionAdapter{sess: g.driver.NewSession(ctx, neo4j.SessionConfig{})}
}

// EnsureSchema creates the uniqueness constraints the MERGEs rely on.
func (g *Graph) EnsureSchema(ctx context.Context) error {
	sess := g.session(ctx)
	defer sess.Close(ctx)

	for _, cypher := range []string{
		`CREATE CONSTRAINT page_url IF NOT EXISTS FOR (p:Page) REQUIRE p.url IS UNIQUE`,
		`CREATE CONSTRAINT chunk_key IF NOT EXISTS FOR (c:Chunk) REQUIRE (c.collection, c.hash) IS UNIQUE`,
	} {
		if _, err := sess.Run(ctx, cypher, nil); err != nil {
			return fmt.Errorf("provenance: schema: %w", err)
		}
	}
	return nil
}

// RecordPage links url to every chunk hash it produced, stored or skipped.
func (g *Graph) RecordPage(ctx context.Context, collection, url string, hashes []domain.ContentHash) error {
	if len(hashes) == 0 {
		return nil
	}
	sess := g.session(ctx)
	defer sess.Close(ctx)

	hs := make([]string, len(hashes))
	for i, h := range hashes {
		hs[i] = string(h)
	}
	cypher := `MERGE (p:Page {url: $url})
		SET p.ingested_at = $at
		WITH p
		UNWIND range(0, size($hashes) - 1) AS i
		MERGE (c:Chunk {collection: $collection, hash: $hashes[i]})
		MERGE (p)-[r:CONTAINS]->(c)
		SET r.index = i`
	_, err := sess.Run(ctx, cypher, map[string]any{
		"url":        url,
		"collection": collection,
		"hashes":     hs,
		"at":         g.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("provenance: record %s: %w", url, err)
	}
	return nil
}

// Sources returns the URLs of every page containing the chunk hash.
func (g *Graph) Sources(ctx context.Context, collection string, hash domain.ContentHash) ([]string, error) {
	sess := g.session(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx,
		`MATCH (p:Page)-[:CONTAINS]->(c:Chunk {collection: $collection, hash: $hash})
		 RETURN p.url AS url ORDER BY url`,
		map[string]any{"collection": collection, "hash": string(hash)},
	)
	if err != nil {
		return nil, fmt.Errorf("provenance: sources: %w", err)
	}
	var urls []string
	for res.Next(ctx) {
		if v, ok := res.Record().Get("url"); ok {
			if s, ok := v.(string); ok {
				urls = append(urls, s)
			}
		}
	}
	return urls, nil
}

// ForgetCollection removes the chunks of collection and any page left
// without chunks.
func (g *Graph) ForgetCollection(ctx context.Context, collection string) error {
	sess := g.session(ctx)
	defer sess.Close(ctx)

	if _, err := sess.Run(ctx,
		`MATCH (c:Chunk {collection: $collection}) DETACH DELETE c`,
		map[string]any{"collection": collection},
	); err != nil {
		return fmt.Errorf("provenance: forget %s: %w", collection, err)
	}
	if _, err := sess.Run(ctx, `MATCH (p:Page) WHERE NOT (p)-[:CONTAINS]->() DELETE p`, nil); err != nil {
		return fmt.Errorf("provenance: prune pages: %w", err)
	}
	return nil
}
