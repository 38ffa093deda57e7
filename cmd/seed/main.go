package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/comanda-pos/api/internal/auth"
	"github.com/comanda-pos/api/internal/config"
	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/enum"
	"github.com/comanda-pos/api/internal/logging"
	"github.com/comanda-pos/api/internal/service"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	_ = godotenv.Load()

	// CLI flags
	establishment := flag.String("establishment", "", "Establishment ID (default: SEED_ESTABLISHMENT_ID or a new one)")
	tables := flag.Int("tables", 10, "Number of numbered tables")
	tabs := flag.Int("tabs", 0, "Number of numbered tabs")
	tabPrefix := flag.String("tab-prefix", "Tab", "Display prefix for tabs")
	role := flag.String("role", enum.UserRoleOwner, "Role of the dev token")
	ttl := flag.Duration("ttl", 12*time.Hour, "Lifetime of the dev token")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logging.Setup(cfg.LogLevel, false)

	if *establishment == "" {
		*establishment = os.Getenv("SEED_ESTABLISHMENT_ID")
	}
	eid := uuid.New()
	if *establishment != "" {
		if eid, err = uuid.Parse(*establishment); err != nil {
			log.Fatal().Err(err).Msg("invalid establishment ID")
		}
	}

	if cfg.AutoMigrate {
		if err := database.Migrate(cfg.DatabaseURL); err != nil {
			log.Fatal().Err(err).Msg("migrate")
		}
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to connect to database")
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("unable to ping database")
	}

	points := service.NewPointService(pool, func(db database.DBTX) service.PointStore {
		return database.New(db)
	}, nil)
	layout, err := points.SaveLayout(ctx, eid, service.Layout{
		TablesEnabled: *tables > 0,
		TabsEnabled:   *tabs > 0,
		TableCount:    *tables,
		TabCount:      *tabs,
		TabPrefix:     *tabPrefix,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to save point layout")
	}

	userID := uuid.New()
	token, err := auth.GenerateToken(cfg.JWTSecret, userID, eid, *role, *ttl)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to sign token")
	}

	log.Info().
		Str("establishment_id", eid.String()).
		Int("tables", layout.TableCount).
		Int("tabs", layout.TabCount).
		Msg("seed completed")
	fmt.Printf("ESTABLISHMENT_ID=%s\nUSER_ID=%s\nTOKEN=%s\n", eid, userID, token)
}
