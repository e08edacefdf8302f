package main

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/contoso-cloud/gmsa-provisioner/internal/api/http"
	"github.com/contoso-cloud/gmsa-provisioner/internal/audit"
	"github.com/contoso-cloud/gmsa-provisioner/internal/directory"
	"github.com/contoso-cloud/gmsa-provisioner/internal/secrets"
)

type Config struct {
	Log       LogConfig
	Http      http.Config
	KeyVault  secrets.Config  `mapstructure:"keyvault"`
	Directory directory.Config
	Audit     audit.Config
}

var config Config

func InitConfig() {
	_ = godotenv.Load()

	viper.SetConfigName("application")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./cmd/gmsa-provisioner")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	_ = viper.BindEnv("keyvault.vault_url", "KEYVAULT_URL")
	_ = viper.BindEnv("audit.url", "AUDIT_DATABASE_URL")

	if err := viper.ReadInConfig(); err != nil {
		panic(err)
	}

	if err := viper.Unmarshal(&config); err != nil {
		panic(err)
	}

	initLogger(config.Log.Level)
}
