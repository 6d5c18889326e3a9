package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/spf13/pflag"

	"github.com/sells-group/geostat/internal/feature"
	"github.com/sells-group/geostat/internal/geoio"
	"github.com/sells-group/geostat/internal/resilience"
)

// layerFlags are the flags describing one file input.
type layerFlags struct {
	path  string
	crs   string
	layer string
}

// bind registers --<name>, --<name>-crs and --<name>-layer on fs.
func (l *layerFlags) bind(fs *pflag.FlagSet, name, usage string) {
	fs.StringVar(&l.path, name, "", usage)
	fs.StringVar(&l.crs, name+"-crs", "", "override the CRS of --"+name+" (e.g. EPSG:4326)")
	fs.StringVar(&l.layer, name+"-layer", "", "GeoPackage layer or XLSX sheet of --"+name)
}

func (l *layerFlags) source() geoio.Source {
	return geoio.Source{Path: l.path, CRS: l.crs, Layer: l.layer}
}

// readLayer loads a file layer, failing early with the flag name when the
// path is missing.
func readLayer(ctx context.Context, flag string, src geoio.Source) (*feature.Table, error) {
	if src.Path == "" {
		return nil, eris.Errorf("--%s is required", flag)
	}
	t, err := geoio.Read(ctx, src)
	if err != nil {
		return nil, eris.Wrapf(err, "read --%s", flag)
	}
	return t, nil
}

// writeLayer writes t to path and prints a one-line summary.
func writeLayer(ctx context.Context, w io.Writer, path string, t *feature.Table) error {
	if path == "" {
		return eris.New("--output is required")
	}
	if err := geoio.Write(ctx, path, t); err != nil {
		return err
	}
	fmt.Fprintf(w, "Wrote %d rows (%d columns) to %s\n", t.Len(), len(t.Columns()), path)
	return nil
}

// databasePool creates a pgxpool.Pool from cfg.Store.DatabaseURL.
func databasePool(ctx context.Context) (*pgxpool.Pool, error) {
	if err := cfg.Validate("postgis"); err != nil {
		return nil, eris.Wrap(err, "no database_url configured (set store.database_url)")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Store.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "parse connection string")
	}
	poolCfg.MaxConns = 4
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "create connection pool")
	}

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = cfg.Store.ConnectAttempts
	retry.OnRetry = resilience.RetryLogger("postgis_ping")
	if err := resilience.Do(ctx, retry, pool.Ping); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "ping database")
	}
	return pool, nil
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
