/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

func getFavicon() string {
	return `<meta name="msapplication-TileColor" content="#da532c">
	<meta name="theme-color" content="#ffffff">`
}
