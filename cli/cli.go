package cli

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/santiagomed/carbo/config"
	"github.com/santiagomed/carbo/logger"
	"github.com/santiagomed/carbo/store"
)

var rootCmd = &cobra.Command{
	Use:   "carbo",
	Short: "Carbo is a CLI wizard for product carbon footprints",
	Long:  `Carbo walks you through selecting a product, editing its bill of materials, and calculating its carbon footprint.`,
}

var calcCmd = &cobra.Command{
	Use:   "calc",
	Short: "Run the footprint calculation wizard",
	Run: func(cmd *cobra.Command, args []string) {
		flags, err := parseCalcFlags(cmd)
		if err != nil {
			fmt.Printf("Error parsing flags: %v\n", err)
			os.Exit(1)
		}

		model, err := newWizardModel(flags)
		if err != nil {
			fmt.Printf("Error initializing wizard: %v\n", err)
			os.Exit(1)
		}

		p := tea.NewProgram(model)
		if _, err := p.Run(); err != nil {
			fmt.Printf("Error running program: %v\n", err)
			os.Exit(1)
		}

		model.Shutdown()
	},
}

var productsCmd = &cobra.Command{
	Use:   "products",
	Short: "List the product catalog",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadCmdConfig(cmd)
		if err != nil {
			fmt.Printf("Error loading config: %v\n", err)
			os.Exit(1)
		}
		catalog, err := store.Open(cfg.DBPath, logger.Get())
		if err != nil {
			fmt.Printf("Error opening catalog: %v\n", err)
			os.Exit(1)
		}
		defer catalog.Close()

		products, err := catalog.ListProducts()
		if err != nil {
			fmt.Printf("Error listing products: %v\n", err)
			os.Exit(1)
		}

		idStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
		for _, p := range products {
			fmt.Printf("%s  %s — %s\n", idStyle.Render(p.ID), p.Name, p.Description)
		}
	},
}

var factorsCmd = &cobra.Command{
	Use:   "factors",
	Short: "List the emission factor catalog",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadCmdConfig(cmd)
		if err != nil {
			fmt.Printf("Error loading config: %v\n", err)
			os.Exit(1)
		}
		catalog, err := store.Open(cfg.DBPath, logger.Get())
		if err != nil {
			fmt.Printf("Error opening catalog: %v\n", err)
			os.Exit(1)
		}
		defer catalog.Close()

		factors, err := catalog.ListFactors()
		if err != nil {
			fmt.Printf("Error listing factors: %v\n", err)
			os.Exit(1)
		}

		idStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
		for _, f := range factors {
			fmt.Printf("%s  %s: %.3f kgCO2e/%s [%s]\n",
				idStyle.Render(f.ID), f.Name, f.KgCO2ePerUnit, f.Unit, f.Category)
		}
	},
}

type calcFlags struct {
	config  string
	service string
	fresh   bool
}

func init() {
	rootCmd.AddCommand(calcCmd)
	rootCmd.AddCommand(productsCmd)
	rootCmd.AddCommand(factorsCmd)

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to custom configuration file")
	calcCmd.Flags().StringP("service", "s", "", "URL of a calculation server (default: run calculations locally)")
	calcCmd.Flags().Bool("fresh", false, "Ignore persisted wizard state and start over")
}

func parseCalcFlags(cmd *cobra.Command) (calcFlags, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return calcFlags{}, err
	}
	service, err := cmd.Flags().GetString("service")
	if err != nil {
		return calcFlags{}, err
	}
	fresh, err := cmd.Flags().GetBool("fresh")
	if err != nil {
		return calcFlags{}, err
	}
	return calcFlags{config: configPath, service: service, fresh: fresh}, nil
}

func loadCmdConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	return config.LoadConfig(path)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
