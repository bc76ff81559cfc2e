// Package signer provides the HMAC primitives shared by token minting and
// provider callback verification.
//
// The encoding rules match what the storage provider computes on its side:
// HMAC over the UTF-8 message, URL-safe base64 with the trailing '=' padding
// removed. Any drift here makes every signed artifact unusable.
//
// # Basic Usage
//
//	s, err := signer.New(signer.Config{
//	    SecretKey:   os.Getenv("QINIU_SECRET_KEY"),
//	    AccessKeyID: os.Getenv("QINIU_ACCESS_KEY"),
//	})
//	token, _ := s.UploadPolicyToken("photos", "cats/1.png", deadline, nil)
//	url, err := s.DownloadURL("https://cdn.example/cats/1.png", deadline)
//
// Verifying an inbound callback:
//
//	v := signer.NewVerifier(s)
//	ok, body := v.VerifyRequest(r)
package signer
