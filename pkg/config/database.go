package config

import (
	"fmt"

	dbutils "github.com/tendant/db-utils/db"
)

// DatabaseConfig holds PostgreSQL database configuration
type DatabaseConfig struct {
	Host     string `yaml:"host" env:"SSO_PG_HOST" env-default:"localhost"`
	Port     uint16 `yaml:"port" env:"SSO_PG_PORT" env-default:"5432"`
	Database string `yaml:"database" env:"SSO_PG_DATABASE" env-default:"sso_db"`
	User     string `yaml:"user" env:"SSO_PG_USER" env-default:"sso"`
	Password string `yaml:"password" env:"SSO_PG_PASSWORD" env-default:"pwd"`
}

// ToDatabaseURL converts the config to a PostgreSQL connection URL
func (d DatabaseConfig) ToDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Database)
}

// ToDbConfig converts the config to a db-utils DbConfig
func (d DatabaseConfig) ToDbConfig() dbutils.DbConfig {
	return dbutils.DbConfig{
		Host:     d.Host,
		Port:     d.Port,
		Database: d.Database,
		User:     d.User,
		Password: d.Password,
	}
}

func (d DatabaseConfig) Validate() ValidationErrors {
	return CollectErrors(
		RequireNonEmpty("SSO_PG_HOST", d.Host),
		RequireValidPort("SSO_PG_PORT", d.Port),
		RequireNonEmpty("SSO_PG_DATABASE", d.Database),
		RequireNonEmpty("SSO_PG_USER", d.User),
	)
}
