package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
)

// OutputFormats are the accepted values of the output setting.
var OutputFormats = []string{"auto", "text", "markdown", "json"}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	var errs []error
	if c.Extract.Source == "" {
		errs = append(errs, errors.New("extract.source is required"))
	}
	if c.Extract.Project == "" {
		errs = append(errs, fmt.Errorf("extract.project is required (or set name in %s)", dbtProjectFile))
	}
	if len(c.Extract.Resources) == 0 {
		errs = append(errs, errors.New("extract.resources must list at least one resource"))
	}
	if c.Extract.WriteDisposition != DefaultWriteDisposition {
		errs = append(errs, fmt.Errorf("extract.write_disposition %q is not supported (only %q)",
			c.Extract.WriteDisposition, DefaultWriteDisposition))
	}
	if c.Dbt.ProjectDir == "" {
		errs = append(errs, errors.New("dbt.project_dir is required"))
	}
	for _, j := range c.AllJobs() {
		if j.Name == "" {
			errs = append(errs, errors.New("every job needs a name"))
		}
	}
	if c.OutputFormat != "" && !slices.Contains(OutputFormats, c.OutputFormat) {
		errs = append(errs, fmt.Errorf("output %q must be one of %v", c.OutputFormat, OutputFormats))
	}
	return errors.Join(errs...)
}

// ValidateDirectories checks that the dbt project exists.
func (c *Config) ValidateDirectories() error {
	if _, err := os.Stat(c.Dbt.ProjectDir); os.IsNotExist(err) {
		return fmt.Errorf("dbt project directory does not exist: %s\nHint: set dbt.project_dir in %s", c.Dbt.ProjectDir, DefaultConfigFile)
	}
	return nil
}
