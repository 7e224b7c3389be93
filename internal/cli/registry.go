package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Lutra-Fs/sift/internal/config"
)

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Manage configured registries",
}

// GetRegistryCmd export
func GetRegistryCmd() *cobra.Command {
	return registryCmd
}

var (
	registryTypeFlag   string
	registryURLFlag    string
	registrySourceFlag string
	registryGlobalFlag bool
)

func init() {
	addCmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a registry to sift.toml",
		RunE:  runRegistryAdd,
	}
	addCmd.Flags().StringVar(&registryTypeFlag, "type", "sift", "Registry type (sift or claude-marketplace)")
	addCmd.Flags().StringVar(&registryURLFlag, "url", "", "Index URL for sift registries")
	addCmd.Flags().StringVar(&registrySourceFlag, "source", "", "github:org/repo source for marketplaces")
	addCmd.Flags().BoolVar(&registryGlobalFlag, "global", false, "Write to the global sift.toml")
	registryCmd.AddCommand(addCmd)

	registryCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List configured registries",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession("")
			if err != nil {
				return err
			}
			defer s.close()
			for name, entry := range s.state.Registries {
				location := entry.URL
				if location == "" {
					location = entry.Source
				}
				kind := entry.Type
				if kind == "" {
					kind = "sift"
				}
				fmt.Printf("%-20s %-20s %s\n", name, kind, location)
			}
			return nil
		},
	})

	registryCmd.AddCommand(&cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a registry from sift.toml",
		RunE:  runRegistryRemove,
	})
}

func runRegistryAdd(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return usagef("registry add requires exactly one name")
	}
	name := args[0]

	entry := config.RegistryEntry{
		Type:   registryTypeFlag,
		URL:    registryURLFlag,
		Source: registrySourceFlag,
	}
	if err := entry.Validate(name); err != nil {
		return usagef("%v", err)
	}

	path, doc, err := loadLayerForEdit(registryGlobalFlag)
	if err != nil {
		return err
	}
	if doc.Registry == nil {
		doc.Registry = make(map[string]config.RegistryEntry)
	}
	doc.Registry[name] = entry
	if err := config.WriteDocument(path, doc); err != nil {
		return err
	}
	fmt.Printf("%s registry %s added\n", paint(colorGreen, "✓"), name)
	return nil
}

func runRegistryRemove(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return usagef("registry remove requires exactly one name")
	}
	name := args[0]

	path, doc, err := loadLayerForEdit(registryGlobalFlag)
	if err != nil {
		return err
	}
	if _, ok := doc.Registry[name]; !ok {
		return fmt.Errorf("registry %q is not declared in %s", name, path)
	}
	delete(doc.Registry, name)
	if err := config.WriteDocument(path, doc); err != nil {
		return err
	}
	fmt.Printf("%s registry %s removed\n", paint(colorGreen, "✓"), name)
	return nil
}

func loadLayerForEdit(global bool) (string, *config.Document, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", nil, err
	}
	path := config.ProjectConfigPath(cwd)
	if global {
		path = config.GlobalConfigPath()
	}
	doc, _, err := config.LoadFile(path, global)
	if err != nil {
		return "", nil, err
	}
	return path, doc, nil
}
