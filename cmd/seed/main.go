// seed inserts development sample data: two users, an organization, an
// organization workspace and one thread placed in it.
// Idempotent: skips everything if the dev user already exists.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"unified-ai/backend/internal/config"
	"unified-ai/backend/internal/db"
	"unified-ai/backend/internal/logging"
	orgrepo "unified-ai/backend/internal/organization/repository"
	permdomain "unified-ai/backend/internal/permission/domain"
	"unified-ai/backend/internal/platform/ids"
	"unified-ai/backend/internal/platform/rbac"
	"unified-ai/backend/internal/security"
	"unified-ai/backend/internal/user/domain"
	userrepo "unified-ai/backend/internal/user/repository"
	workspacerepo "unified-ai/backend/internal/workspace/repository"
)

const (
	devThreadID = "dev-thread-001"
	memberEmail = "member@example.com"
)

func main() {
	email := flag.String("email", "dev@example.com", "Email of the dev user (organization OWNER)")
	password := flag.String("password", "password123", "Password of both seeded users")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.LogLevel, "text")
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}
	if err := seed(context.Background(), cfg, log, strings.ToLower(*email), *password); err != nil {
		log.WithError(err).Fatal("seed failed")
	}
}

func seed(ctx context.Context, cfg *config.Config, log logrus.FieldLogger, email, password string) error {
	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer conn.Close()

	users := userrepo.NewPostgresRepository(conn)
	existing, err := users.GetByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("seed check: %w", err)
	}
	if existing != nil {
		log.Infof("seed already applied (%s exists), skipping", email)
		return nil
	}

	hash, err := security.NewHasher(cfg.BcryptCost).Hash([]byte(password))
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	owner := &domain.User{ID: ids.New(), Email: email, PasswordHash: hash, DisplayName: "Dev User", EmailVerified: true, Status: domain.UserStatusActive, CreatedAt: now, UpdatedAt: now}
	member := &domain.User{ID: ids.New(), Email: memberEmail, PasswordHash: hash, DisplayName: "Member User", EmailVerified: true, Status: domain.UserStatusActive, CreatedAt: now, UpdatedAt: now}
	for _, u := range []*domain.User{owner, member} {
		if err := users.Create(ctx, u); err != nil {
			return fmt.Errorf("create user %s: %w", u.Email, err)
		}
	}

	roles := rbac.NewEngine(orgrepo.NewPostgresRepository(conn), workspacerepo.NewPostgresRepository(conn), rbac.Options{Log: log})
	org, err := roles.CreateOrganization(ctx, rbac.CreateOrganizationInput{Name: "Acme Dev", OwnerID: owner.ID, Plan: "team"})
	if err != nil {
		return fmt.Errorf("create organization: %w", err)
	}
	if _, err := roles.AddOrganizationMember(ctx, rbac.AddOrganizationMemberInput{
		OrgID: org.ID, UserID: member.ID, Role: "MEMBER", AddedBy: owner.ID,
	}); err != nil {
		return fmt.Errorf("add organization member: %w", err)
	}
	ws, err := roles.CreateWorkspace(ctx, rbac.CreateWorkspaceInput{Name: "Research", OwnerOrgID: org.ID, CreatedBy: owner.ID})
	if err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	if _, err := roles.AddWorkspaceMember(ctx, ws.ID, member.ID, "EDITOR", owner.ID); err != nil {
		return fmt.Errorf("add workspace member: %w", err)
	}
	if err := roles.AssignEntity(ctx, permdomain.EntityThread, devThreadID, ws.ID); err != nil {
		return fmt.Errorf("assign thread: %w", err)
	}

	log.WithFields(logrus.Fields{"organization_id": org.ID, "workspace_id": ws.ID, "thread_id": devThreadID}).Info("seed completed")
	fmt.Printf("Dev login: %s / %s\n", email, password)
	fmt.Printf("Member login: %s / %s\n", memberEmail, password)
	return nil
}
