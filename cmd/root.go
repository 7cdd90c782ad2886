/*
Copyright © 2024 Dean
*/
package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"rageval/src/log"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "rageval",
	Short: "Accuracy evaluation engine for RAG systems",
	Long: `rageval runs accuracy tests over a question dataset, scoring RAG answers
with an LLM judge, human reviewers, or both.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return log.Setup(viper.GetBool("log.development"), viper.GetInt("log.level"))
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	settingDefaultConfig()
}
