package main

import (
	"fmt"
	"log"

	"github.com/SherClockHolmes/webpush-go"
)

// Generates a fresh VAPID key pair for the notify service. Run once and
// persist the output, otherwise every restart invalidates existing push
// subscriptions.
func main() {
	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		log.Fatal("Failed to generate VAPID keys:", err)
	}

	fmt.Println("========================================")
	fmt.Println("VAPID PUBLIC KEY:")
	fmt.Println(publicKey)
	fmt.Println()
	fmt.Println("VAPID PRIVATE KEY:")
	fmt.Println(privateKey)
	fmt.Println("========================================")
	fmt.Println("Copy these and add them to your .env file:")
	fmt.Println("VAPID_PUBLIC_KEY=", publicKey)
	fmt.Println("VAPID_PRIVATE_KEY=", privateKey)
}
