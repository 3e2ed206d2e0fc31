package main

import _ "github.com/cotlab/gocanopen/pkg/can/socketcanraw"
