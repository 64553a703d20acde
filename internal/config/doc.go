// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation,
// which is how the application key and secret are supplied:
//
//	api:
//	  app_key: ${KIS_APP_KEY}
//	  app_secret: ${KIS_APP_SECRET}
package config
