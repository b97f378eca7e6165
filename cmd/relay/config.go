package main

import "time"

type Config struct {
	Host           string        `env:"HOST,default=localhost"`
	Port           int           `env:"PORT,default=4000"`
	BadgerFilepath string        `env:"BADGER_FILEPATH,required=true"`
	LogLevel       string        `env:"LOG_LEVEL,required=true"`
	ReadBufferSize int           `env:"READ_BUFFER_SIZE,default=4096"`
	EchoDelay      time.Duration `env:"ECHO_DELAY,default=5s"`
}
