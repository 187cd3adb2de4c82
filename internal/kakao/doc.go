// Package kakao downloads static emoticon packs from e.kakao.com.
// Animated emoticons are served in an encrypted form and are not handled.
package kakao
