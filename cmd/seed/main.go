// cmd/seed/main.go provisions a session for an event: the session row, one
// team per name with a freshly minted passcode, and the host and display
// tokens the consoles connect with. Passcodes are printed exactly once; only
// their argon2id hashes are stored.
package main

import (
	"context"
	"crypto/ed25519"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/boardroomhq/boardroom/internal/auth"
	"github.com/boardroomhq/boardroom/internal/config"
	"github.com/boardroomhq/boardroom/internal/content"
	"github.com/boardroomhq/boardroom/internal/models"
	"github.com/boardroomhq/boardroom/internal/store"
)

func main() {
	var (
		name      = flag.String("name", "Boardroom Session", "session name")
		teamCount = flag.Int("teams", 6, "number of teams to create")
		teamNames = flag.String("team-names", "", "comma-separated team names (overrides -teams)")
	)
	flag.Parse()

	logger := logrus.StandardLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	if cfg.AuthPrivateKeyFile != "" {
		if err := ensureKeyFiles(cfg.AuthPrivateKeyFile, cfg.AuthPublicKeyFile); err != nil {
			logger.Fatalf("key files: %v", err)
		}
		if err := auth.InitFromPath(cfg.AuthPrivateKeyFile, cfg.AuthPublicKeyFile, cfg.TokenExpire); err != nil {
			logger.Fatalf("auth init: %v", err)
		}
	} else {
		logger.Warn("AUTH_PRIVATE_KEY_FILE not set; printed tokens only verify against this process's key")
		if err := auth.Init(cfg.TokenExpire); err != nil {
			logger.Fatalf("auth init: %v", err)
		}
	}

	ctx := context.Background()

	pg, err := store.Connect(ctx, cfg.PostgresURL())
	if err != nil {
		logger.Fatalf("postgres: %v", err)
	}
	defer pg.Close()
	if err := pg.Migrate(ctx); err != nil {
		logger.Fatalf("migrate: %v", err)
	}

	pack, err := loadPack(cfg.ContentPackPath)
	if err != nil {
		logger.Fatalf("content pack: %v", err)
	}

	sess := &models.Session{
		ID:          uuid.New(),
		Name:        *name,
		ContentPack: pack.Name,
		PhaseID:     pack.FirstPhase().ID,
	}
	if err := pg.CreateSession(ctx, sess); err != nil {
		logger.Fatalf("create session: %v", err)
	}

	fmt.Printf("session %q\n", sess.Name)
	fmt.Printf("  id:           %s\n", sess.ID)
	fmt.Printf("  content pack: %s\n", pack.Name)
	fmt.Printf("  first phase:  %s\n", sess.PhaseID)
	fmt.Println()

	for i, teamName := range namesFor(*teamNames, *teamCount) {
		passcode, err := auth.GeneratePasscode()
		if err != nil {
			logger.Fatalf("generate passcode: %v", err)
		}
		hash, err := auth.HashPasscode(passcode)
		if err != nil {
			logger.Fatalf("hash passcode: %v", err)
		}
		team := &models.Team{
			ID:           uuid.New(),
			SessionID:    sess.ID,
			Name:         teamName,
			PasscodeHash: hash,
			DisplayOrder: i,
		}
		if err := pg.CreateTeam(ctx, team); err != nil {
			logger.Fatalf("create team %q: %v", teamName, err)
		}
		fmt.Printf("  team %-16s passcode %s\n", teamName, passcode)
	}

	hostToken, err := auth.CreateToken("host", sess.ID, models.RoleHost)
	if err != nil {
		logger.Fatalf("host token: %v", err)
	}
	displayToken, err := auth.CreateToken("display", sess.ID, models.RoleDisplay)
	if err != nil {
		logger.Fatalf("display token: %v", err)
	}
	fmt.Println()
	fmt.Printf("  host token:    %s\n", hostToken)
	fmt.Printf("  display token: %s\n", displayToken)
}

// namesFor resolves the team names: an explicit list wins, otherwise
// "Team 1".."Team N".
func namesFor(list string, n int) []string {
	if list != "" {
		parts := strings.Split(list, ",")
		names := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				names = append(names, p)
			}
		}
		return names
	}
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("Team %d", i+1)
	}
	return names
}

// ensureKeyFiles generates the signing key pair on first run so the seed
// tool and the server share one key.
func ensureKeyFiles(privatePath, publicPath string) error {
	if _, err := os.Stat(privatePath); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return err
	}
	if err := os.WriteFile(privatePath, priv, 0o600); err != nil {
		return err
	}
	return os.WriteFile(publicPath, pub, 0o644)
}

func loadPack(path string) (*content.Pack, error) {
	if path == "" {
		return content.Default()
	}
	return content.Load(path)
}
