package http

type Config struct {
	Port        uint   `mapstructure:"port"`
	TokenHeader string `mapstructure:"token_header"`
}
