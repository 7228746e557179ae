package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"churchadmin/internal/config"
	"churchadmin/internal/dashboard"
	"churchadmin/internal/logger"
	"churchadmin/internal/model"
)

// Seeds a demo organization with services, members and ministers through the
// same dashboard client the server uses, so every write is permission checked.
func main() {
	email := flag.String("email", os.Getenv("SEED_EMAIL"), "admin email to sign in with")
	password := flag.String("password", os.Getenv("SEED_PASSWORD"), "admin password")
	org := flag.String("org", "", "organization id to seed (defaults to the active one)")
	flag.Parse()

	cfg := config.NewConfig()
	log := logger.New(cfg, nil).Logger

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := seed(ctx, cfg, log, *email, *password, *org); err != nil {
		log.Error("Failed to create test data", "error", err)
		os.Exit(1)
	}
}

func seed(ctx context.Context, cfg *config.Config, log *slog.Logger, email, password, org string) error {
	client, err := dashboard.NewClient("seed", dashboard.Deps{Config: cfg, Logger: log})
	if err != nil {
		return err
	}
	defer client.Close()

	if result := client.Session.Login(ctx, email, password); !result.Success {
		return fmt.Errorf("sign in as %s: %s", email, result.Error)
	}
	if org != "" {
		if _, err := client.Session.SetActiveOrganization(ctx, org); err != nil {
			return err
		}
	}
	active, found := client.Session.Organization()
	if !found {
		return fmt.Errorf("%s has no organization to seed", email)
	}
	log.Info("Seeding organization", "organization_id", active.ID, "name", active.Name)

	services := []model.ChurchServiceInput{
		{Name: "Sunday Worship", Type: "worship", Schedule: "Sunday 10:00"},
		{Name: "Youth Night", Type: "youth", Schedule: "Friday 19:30"},
		{Name: "Choir", Type: "choir", Schedule: "Wednesday 18:00"},
	}
	serviceIDs := make([]string, 0, len(services))
	for _, input := range services {
		service, err := client.Services.Create(ctx, input)
		if err != nil {
			return fmt.Errorf("create service %s: %w", input.Name, err)
		}
		serviceIDs = append(serviceIDs, service.ID)
		fmt.Printf("Created service: %s\n", service.Name)
	}

	members := []model.MemberInput{
		{FirstName: "John", LastName: "Doe", Email: "john@example.com", Gender: "male", Status: model.MemberStatusActive},
		{FirstName: "Jane", LastName: "Smith", Email: "jane@example.com", Gender: "female", Status: model.MemberStatusActive},
		{FirstName: "Bob", LastName: "Wilson", Gender: "male", Status: model.MemberStatusVisitor},
		{FirstName: "Grace", LastName: "Adeyemi", Gender: "female", Status: model.MemberStatusInactive},
	}
	for i, input := range members {
		input.ServiceIDs = []string{serviceIDs[i%len(serviceIDs)]}
		member, err := client.Members.Create(ctx, input)
		if err != nil {
			return fmt.Errorf("create member %s %s: %w", input.FirstName, input.LastName, err)
		}
		fmt.Printf("Created member: %s %s\n", member.FirstName, member.LastName)
	}

	minister, err := client.Ministers.Create(ctx, model.MinisterInput{
		Name:       "Paul Okafor",
		Title:      "Senior Pastor",
		Email:      "paul@example.com",
		ServiceIDs: serviceIDs[:1],
	})
	if err != nil {
		return fmt.Errorf("create minister: %w", err)
	}
	fmt.Printf("Created minister: %s\n", minister.Name)

	fmt.Println("\nTest data created successfully!")
	return nil
}
