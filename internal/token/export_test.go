package token

var Decode = decode
