package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/signalbox/internal/automation"
	"github.com/zulandar/signalbox/internal/db"
	"github.com/zulandar/signalbox/internal/models"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// importFile is the YAML layout read by `sb automation validate|import`.
type importFile struct {
	Templates   []templateSpec   `yaml:"templates"`
	Automations []automationSpec `yaml:"automations"`
}

type templateSpec struct {
	UserID    uint     `yaml:"user_id"`
	Name      string   `yaml:"name"`
	Content   string   `yaml:"content"`
	Variables []string `yaml:"variables"`
	Category  string   `yaml:"category"`
}

type automationSpec struct {
	UserID      uint                 `yaml:"user_id"`
	Name        string               `yaml:"name"`
	TriggerType string               `yaml:"trigger_type"`
	Trigger     models.TriggerConfig `yaml:"trigger"`
	Actions     []models.Action      `yaml:"actions"`
	IsActive    *bool                `yaml:"is_active"`
}

func (s automationSpec) toModel() *models.Automation {
	a := &models.Automation{
		UserID:      s.UserID,
		Name:        s.Name,
		TriggerType: models.TriggerType(s.TriggerType),
		Actions:     s.Actions,
		IsActive:    true,
	}
	if s.IsActive != nil {
		a.IsActive = *s.IsActive
	}
	a.SetTrigger(s.Trigger)
	return a
}

// loadImportFile parses path and validates every automation in it.
func loadImportFile(path string) (*importFile, []*models.Automation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	var f importFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", path, err)
	}

	var errs []string
	for i, t := range f.Templates {
		if t.UserID == 0 || strings.TrimSpace(t.Name) == "" || t.Content == "" {
			errs = append(errs, fmt.Sprintf("templates[%d]: user_id, name and content are required", i))
		}
	}
	autos := make([]*models.Automation, 0, len(f.Automations))
	for i, spec := range f.Automations {
		a := spec.toModel()
		if err := a.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("automations[%d] %q: %v", i, spec.Name, err))
			continue
		}
		autos = append(autos, a)
	}
	if len(errs) > 0 {
		return nil, nil, fmt.Errorf("%s is invalid:\n  %s", path, strings.Join(errs, "\n  "))
	}
	return &f, autos, nil
}

func newAutomationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "automation",
		Short: "Automation management commands",
	}

	cmd.AddCommand(newAutomationValidateCmd())
	cmd.AddCommand(newAutomationImportCmd())
	return cmd
}

func newAutomationValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check an automation file without touching the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, autos, err := loadImportFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d templates, %d automations OK\n", args[0], len(f.Templates), len(autos))
			return nil
		},
	}
}

func newAutomationImportCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Create or update templates and automations from a YAML file",
		Long: `Upserts templates by (user_id, name), then creates each automation or
updates the existing one with the same user and name.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAutomationImport(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Signalbox config file")
	return cmd
}

func runAutomationImport(cmd *cobra.Command, configPath, path string) error {
	out := cmd.OutOrStdout()
	f, autos, err := loadImportFile(path)
	if err != nil {
		return err
	}

	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	defer db.Close(gormDB)
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}

	templates := make([]models.MessageTemplate, len(f.Templates))
	for i, t := range f.Templates {
		templates[i] = models.MessageTemplate{
			UserID:    t.UserID,
			Name:      t.Name,
			Content:   t.Content,
			Variables: t.Variables,
			Category:  t.Category,
		}
	}

	created, updated := 0, 0
	err = gormDB.Transaction(func(tx *gorm.DB) error {
		if err := db.SeedTemplates(tx, templates); err != nil {
			return err
		}
		for _, a := range autos {
			var existing models.Automation
			err := tx.Where("user_id = ? AND name = ?", a.UserID, a.Name).Take(&existing).Error
			switch {
			case err == nil:
				a.ID = existing.ID
				if err := automation.Update(tx, a); err != nil {
					return err
				}
				updated++
			case errors.Is(err, gorm.ErrRecordNotFound):
				if err := automation.Create(tx, a); err != nil {
					return err
				}
				created++
			default:
				return fmt.Errorf("look up automation %q: %w", a.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("import %s: %w", path, err)
	}

	fmt.Fprintf(out, "Imported %d templates\n", len(templates))
	fmt.Fprintf(out, "Automations: %d created, %d updated\n", created, updated)
	return nil
}
