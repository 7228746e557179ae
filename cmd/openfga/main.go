package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"churchadmin/internal/config"
	"churchadmin/internal/logger"
	"churchadmin/internal/openfga"
	"churchadmin/internal/rbac"

	"github.com/openfga/go-sdk/client"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg := config.NewConfig()
	log := logger.New(cfg, nil).Logger
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	fgaClient, err := openfga.NewClient(cfg.OpenFGA, log)
	if err != nil {
		log.Error("Failed to create OpenFGA client", "error", err)
		os.Exit(1)
	}

	args := os.Args[2:]
	switch os.Args[1] {
	case "list-stores":
		err = handleListStores(ctx, fgaClient)
	case "create-store":
		err = handleCreateStore(ctx, fgaClient, args)
	case "delete-store":
		err = handleDeleteStore(ctx, fgaClient, args)
	case "list-models":
		err = handleListModels(ctx, fgaClient, args)
	case "write-model":
		err = handleWriteModel(ctx, fgaClient, args)
	case "seed-roles":
		err = handleSeedRoles(ctx, fgaClient, args)
	case "assign-role":
		err = handleAssignRole(ctx, fgaClient, args)
	default:
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		log.Error("Command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func handleListStores(ctx context.Context, fgaClient *openfga.Client) error {
	stores, err := fgaClient.ListStores(ctx)
	if err != nil {
		return err
	}
	for _, store := range stores {
		fmt.Printf("Store ID: %s, Name: %s\n", store.ID, store.Name)
	}
	return nil
}

func handleCreateStore(ctx context.Context, fgaClient *openfga.Client, args []string) error {
	if len(args) < 1 {
		return usageError("create-store <name>")
	}
	id, err := fgaClient.CreateStore(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Created store with ID: %s\n", id)
	return nil
}

func handleDeleteStore(ctx context.Context, fgaClient *openfga.Client, args []string) error {
	if len(args) < 1 {
		return usageError("delete-store <store_id>")
	}
	return fgaClient.DeleteStore(ctx, args[0])
}

func handleListModels(ctx context.Context, fgaClient *openfga.Client, args []string) error {
	if len(args) < 1 {
		return usageError("list-models <store_id>")
	}
	ids, err := fgaClient.ListModels(ctx, args[0])
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Printf("Model ID: %s\n", id)
	}
	return nil
}

func handleWriteModel(ctx context.Context, fgaClient *openfga.Client, args []string) error {
	if len(args) < 1 {
		return usageError("write-model <store_id>")
	}
	modelID, err := fgaClient.WriteModel(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Authorization model written with ID: %s\n", modelID)
	return nil
}

// handleSeedRoles grants the built-in roles their catalog permissions inside
// one organization of the configured store.
func handleSeedRoles(ctx context.Context, fgaClient *openfga.Client, args []string) error {
	if len(args) < 1 {
		return usageError("seed-roles <organization_id>")
	}
	tuples := openfga.RoleTuples(args[0], rbac.BuiltinRoles())
	if err := fgaClient.WriteTuples(ctx, tuples); err != nil {
		return err
	}
	fmt.Printf("Seeded %d role grants for organization %s\n", len(tuples), args[0])
	return nil
}

func handleAssignRole(ctx context.Context, fgaClient *openfga.Client, args []string) error {
	if len(args) < 3 {
		return usageError("assign-role <organization_id> <user_id> <role>")
	}
	var tuples []client.ClientTupleKey
	for _, role := range rbac.ParseRoleNames(args[2]) {
		tuples = append(tuples, openfga.AssignmentTuple(args[0], args[1], role))
	}
	if err := fgaClient.WriteTuples(ctx, tuples); err != nil {
		return err
	}
	slog.Info("Role assigned", "organization_id", args[0], "user_id", args[1], "role", args[2])
	return nil
}

func usageError(usage string) error {
	return fmt.Errorf("usage: openfga %s", usage)
}

func printUsage() {
	fmt.Println("Usage: openfga <command>")
	fmt.Println("Commands:")
	fmt.Println("  list-stores                              List OpenFGA stores")
	fmt.Println("  create-store <name>                      Create a new OpenFGA store")
	fmt.Println("  delete-store <store_id>                  Delete an existing OpenFGA store")
	fmt.Println("  list-models <store_id>                   List authorization models of a store")
	fmt.Println("  write-model <store_id>                   Write the church authorization model")
	fmt.Println("  seed-roles <organization_id>             Grant built-in role permissions")
	fmt.Println("  assign-role <organization_id> <user> <role>  Assign a role to a user")
}
